package audio

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"mediadupfinder/internal/models"
)

const (
	frameSize   = 512
	hopSize     = 256
	numFilters  = 26
	numCoeffs   = 13
	preEmphasis = 0.97

	// tracks quieter than this RMS are treated as silent
	silenceRMS = 1e-4
)

// VectorLen is the length of every MFCC summary vector
const VectorLen = 2 * numCoeffs

// Extractor computes MFCC summary vectors at a fixed sample rate
type Extractor struct {
	sampleRate int
	fft        *fourier.FFT
	window     []float64
	filters    [][]float64
}

// NewExtractor creates an Extractor for samples at sampleRate Hz
func NewExtractor(sampleRate int) *Extractor {
	return &Extractor{
		sampleRate: sampleRate,
		fft:        fourier.NewFFT(frameSize),
		window:     hann(frameSize),
		filters:    melFilterbank(numFilters, frameSize, sampleRate),
	}
}

// Compute returns the per-coefficient mean followed by the per-coefficient
// standard deviation of the MFCCs of samples. Tracks shorter than one frame
// or below the silence floor yield ErrNoAudioTrack.
func (e *Extractor) Compute(samples []float64) ([]float64, error) {
	if len(samples) < frameSize {
		return nil, fmt.Errorf("%w: %d samples is shorter than one analysis frame", models.ErrNoAudioTrack, len(samples))
	}
	if rms(samples) < silenceRMS {
		return nil, fmt.Errorf("%w: track is silent", models.ErrNoAudioTrack)
	}

	emphasized := make([]float64, len(samples))
	emphasized[0] = samples[0]
	for i := 1; i < len(samples); i++ {
		emphasized[i] = samples[i] - preEmphasis*samples[i-1]
	}

	nFrames := 1 + (len(emphasized)-frameSize)/hopSize
	tracks := make([][]float64, numCoeffs)
	for k := range tracks {
		tracks[k] = make([]float64, 0, nFrames)
	}

	frame := make([]float64, frameSize)
	power := make([]float64, frameSize/2+1)
	logMel := make([]float64, numFilters)
	var coeffs []complex128

	for f := 0; f < nFrames; f++ {
		start := f * hopSize
		for i := 0; i < frameSize; i++ {
			frame[i] = emphasized[start+i] * e.window[i]
		}

		coeffs = e.fft.Coefficients(coeffs, frame)
		for i, c := range coeffs {
			a := cmplx.Abs(c)
			power[i] = a * a / frameSize
		}

		for m, filter := range e.filters {
			var energy float64
			for i, w := range filter {
				energy += w * power[i]
			}
			logMel[m] = math.Log(math.Max(energy, 1e-10))
		}

		for k := 0; k < numCoeffs; k++ {
			tracks[k] = append(tracks[k], dct2(logMel, k))
		}
	}

	vec := make([]float64, VectorLen)
	for k, track := range tracks {
		mean, std := stat.MeanStdDev(track, nil)
		if math.IsNaN(std) {
			std = 0
		}
		vec[k] = mean
		vec[numCoeffs+k] = std
	}
	return vec, nil
}

// dct2 returns the k-th DCT-II coefficient of x
func dct2(x []float64, k int) float64 {
	n := float64(len(x))
	var sum float64
	for m, v := range x {
		sum += v * math.Cos(math.Pi*float64(k)*(float64(m)+0.5)/n)
	}
	return sum
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// melFilterbank builds triangular filters over the power spectrum bins
func melFilterbank(filters, fftSize, sampleRate int) [][]float64 {
	bins := fftSize/2 + 1
	lo, hi := hzToMel(0), hzToMel(float64(sampleRate)/2)

	points := make([]int, filters+2)
	for i := range points {
		hz := melToHz(lo + (hi-lo)*float64(i)/float64(filters+1))
		points[i] = int(math.Floor(float64(fftSize+1) * hz / float64(sampleRate)))
		if points[i] >= bins {
			points[i] = bins - 1
		}
	}

	bank := make([][]float64, filters)
	for m := 1; m <= filters; m++ {
		left, center, right := points[m-1], points[m], points[m+1]
		row := make([]float64, bins)
		for k := left; k < center; k++ {
			row[k] = float64(k-left) / float64(center-left)
		}
		for k := center; k < right; k++ {
			row[k] = float64(right-k) / float64(right-center)
		}
		if center == right && center < bins {
			row[center] = 1
		}
		bank[m-1] = row
	}
	return bank
}

func rms(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}
