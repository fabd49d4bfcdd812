package qkdnet

// link.go holds the per-link quantum phase model.  One linkChannel exists
// per topology link; each simulator round it produces the sifted-key outcome
// of N quantum rounds on that link: basis choice, sifting, noise flips,
// and the QBER estimate disclosed to the classical phase.

import (
	"fmt"
	"math"

	"github.com/iti/rngstream"
)

// exact Bernoulli summation is used for draws up to this size; above it
// the normal approximation to the binomial is accurate and much cheaper
const exactDrawLimit = 4096

// number of sifted bits sacrificed to estimate the QBER.  Real protocols
// disclose a sub-sample rather than the true flip count, and we mirror that.
const discloseBits = 2048

// A LinkOutcome holds the result of one quantum phase on one link
type LinkOutcome struct {
	// bits surviving basis sifting
	Sifted int

	// bits flipped by channel noise (not visible to the protocol)
	Errors int

	// error-rate estimate from the disclosed sub-sample
	QBER float64
}

// a linkChannel binds a topology link to its RNG stream and the run
// parameters governing its quantum phase
type linkChannel struct {
	link *Link

	// probability a quantum round survives sifting
	pSift float64

	// quantum rounds per simulator round
	n int

	rng *rngstream.RngStream
}

// createLinkChannel is a constructor.  The RNG stream name mixes the run
// name, seed, and link key so traces identify their stream; replay comes
// from the master seed plus the deterministic order channels are created in.
func createLinkChannel(lnk *Link, cfg *RunCfg) *linkChannel {
	lc := new(linkChannel)
	lc.link = lnk
	lc.pSift = cfg.siftFraction()
	lc.n = cfg.QuantumRounds
	lc.rng = rngstream.New(fmt.Sprintf("%s:%d:%s", cfg.Name, cfg.Seed, lnk.Key()))
	return lc
}

// quantumPhase simulates one quantum phase on the link: each of the n
// quantum rounds independently survives sifting with probability
// px^2+(1-px)^2, and each survivor is flipped with probability Q
func (lc *linkChannel) quantumPhase() LinkOutcome {
	sifted := binomialDraw(lc.rng, lc.n, lc.pSift)
	errors := binomialDraw(lc.rng, sifted, lc.link.Noise)

	return LinkOutcome{
		Sifted: sifted,
		Errors: errors,
		QBER:   lc.discloseQBER(sifted, errors),
	}
}

// discloseQBER estimates the link QBER by sampling disclosed bits from the
// sifted key.  Each disclosed bit disagrees with probability errors/sifted.
func (lc *linkChannel) discloseQBER(sifted, errors int) float64 {
	if sifted == 0 || errors == 0 {
		return 0.0
	}
	if errors == sifted {
		return 1.0
	}

	sample := sifted
	if sample > discloseBits {
		sample = discloseBits
	}
	flipRate := float64(errors) / float64(sifted)
	wrong := binomialDraw(lc.rng, sample, flipRate)
	return float64(wrong) / float64(sample)
}

// binomialDraw samples Binomial(n, p) from the given stream.  Small draws
// sum Bernoulli trials exactly; large draws use the normal approximation,
// sampling the standard normal by Box-Muller from two uniforms the same way
// the event code samples exponentials from RandU01.
func binomialDraw(rng *rngstream.RngStream, n int, p float64) int {
	if n <= 0 || p <= 0.0 {
		return 0
	}
	if p >= 1.0 {
		return n
	}

	if n <= exactDrawLimit {
		count := 0
		for idx := 0; idx < n; idx++ {
			if rng.RandU01() < p {
				count++
			}
		}
		return count
	}

	mean := float64(n) * p
	sd := math.Sqrt(float64(n) * p * (1.0 - p))

	u1 := rng.RandU01()
	u2 := rng.RandU01()
	z := math.Sqrt(-2.0*math.Log(1.0-u1)) * math.Cos(2.0*math.Pi*u2)

	draw := int(math.Round(mean + sd*z))
	if draw < 0 {
		draw = 0
	}
	if draw > n {
		draw = n
	}
	return draw
}
