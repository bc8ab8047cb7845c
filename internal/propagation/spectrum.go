package propagation

// ThirdOctaveBands lists the nominal one-third-octave band centre
// frequencies (Hz) used for NVSPL ambient spectra and banded source levels.
var ThirdOctaveBands = []float64{
	12.5, 16, 20, 25, 31.5, 40, 50, 63, 80, 100,
	125, 160, 200, 250, 315, 400, 500, 630, 800, 1000,
	1250, 1600, 2000, 2500, 3150, 4000, 5000, 6300, 8000, 10000,
	12500, 16000, 20000,
}

// Spectrum holds sound levels (dB) per one-third-octave band, index-aligned
// with ThirdOctaveBands. A single-element Spectrum is treated as a broadband
// level, the degenerate flat-spectrum case.
type Spectrum []float64

// Broadband wraps a single overall level as a one-band Spectrum.
func Broadband(levelDB float64) Spectrum {
	return Spectrum{levelDB}
}

// IsBroadband reports whether the spectrum carries a single overall level
// rather than per-band values.
func (s Spectrum) IsBroadband() bool {
	return len(s) == 1
}

// Clone returns an independent copy of the spectrum. Tuning trials mutate
// their own copies, never a shared slice.
func (s Spectrum) Clone() Spectrum {
	if s == nil {
		return nil
	}
	out := make(Spectrum, len(s))
	copy(out, s)
	return out
}
