// Package pricing is the closed-form option valuation kernel.
//
// Everything here is a pure function of its inputs. A Kernel holds only
// immutable configuration and may be shared by any number of goroutines.
package pricing

import (
	"errors"
	"fmt"
	"math"
)

// ErrNumericalDomain is returned when an input is outside the domain of
// the pricing model (non-positive spot/strike, negative volatility or
// time, NaN/Inf).
var ErrNumericalDomain = errors.New("numerical domain error")

// Kind is the option right.
type Kind string

const (
	Call Kind = "CALL"
	Put  Kind = "PUT"
)

func (k Kind) Valid() bool {
	return k == Call || k == Put
}

const (
	daysPerYear = 365.0
	perPoint    = 100.0
)

// Config holds the kernel knobs that used to be inline literals.
type Config struct {
	// MinTick floors every output price.
	MinTick float64 `json:"min_tick" yaml:"min_tick"`
	// VolFloor replaces a volatility supplied as exactly zero.
	VolFloor float64 `json:"vol_floor" yaml:"vol_floor"`
}

func DefaultConfig() Config {
	return Config{
		MinTick:  0.01,
		VolFloor: 1e-4,
	}
}

// Inputs are the five scalar model inputs plus the option kind.
type Inputs struct {
	Spot   float64
	Strike float64
	T      float64 // years to expiry
	Rate   float64 // continuously compounded risk-free rate
	Vol    float64 // annualised volatility
	Kind   Kind
}

// Greeks are per-contract-unit sensitivities.
//
// Theta is per calendar day, Vega per one volatility point and Rho per one
// rate point.
type Greeks struct {
	Delta float64 `json:"delta" yaml:"delta"`
	Gamma float64 `json:"gamma" yaml:"gamma"`
	Theta float64 `json:"theta" yaml:"theta"`
	Vega  float64 `json:"vega" yaml:"vega"`
	Rho   float64 `json:"rho" yaml:"rho"`
}

// Add returns g + o.
func (g Greeks) Add(o Greeks) Greeks {
	return Greeks{
		Delta: g.Delta + o.Delta,
		Gamma: g.Gamma + o.Gamma,
		Theta: g.Theta + o.Theta,
		Vega:  g.Vega + o.Vega,
		Rho:   g.Rho + o.Rho,
	}
}

// Scale returns every sensitivity multiplied by f.
func (g Greeks) Scale(f float64) Greeks {
	return Greeks{
		Delta: g.Delta * f,
		Gamma: g.Gamma * f,
		Theta: g.Theta * f,
		Vega:  g.Vega * f,
		Rho:   g.Rho * f,
	}
}

type Result struct {
	Price  float64
	Greeks Greeks
}

type Kernel struct {
	cfg Config
}

// NewKernel returns a kernel, filling zero config fields with defaults.
func NewKernel(cfg Config) *Kernel {
	def := DefaultConfig()
	if cfg.MinTick <= 0 {
		cfg.MinTick = def.MinTick
	}
	if cfg.VolFloor <= 0 {
		cfg.VolFloor = def.VolFloor
	}
	return &Kernel{cfg: cfg}
}

func (k *Kernel) Config() Config { return k.cfg }

var defaultKernel = NewKernel(DefaultConfig())

// PriceAndGreeks prices with the default configuration.
func PriceAndGreeks(in Inputs) (Result, error) {
	return defaultKernel.PriceAndGreeks(in)
}

// PriceAndGreeks returns the Black-Scholes value of a European option and
// its five sensitivities. At expiry the value is intrinsic.
func (k *Kernel) PriceAndGreeks(in Inputs) (Result, error) {
	vol, err := k.validate(in)
	if err != nil {
		return Result{}, err
	}

	if in.T == 0 {
		return k.atExpiry(in), nil
	}

	S, K, T, r := in.Spot, in.Strike, in.T, in.Rate
	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*vol*vol)*T) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT

	disc := math.Exp(-r * T)
	pdf := normPDF(d1)

	var price, delta, theta, rho float64
	decay := -(S * pdf * vol) / (2 * sqrtT)

	switch in.Kind {
	case Call:
		nd2 := normCDF(d2)
		price = S*normCDF(d1) - K*disc*nd2
		delta = normCDF(d1)
		theta = decay - r*K*disc*nd2
		rho = K * T * disc * nd2
	case Put:
		nmd2 := normCDF(-d2)
		price = K*disc*nmd2 - S*normCDF(-d1)
		delta = normCDF(d1) - 1
		theta = decay + r*K*disc*nmd2
		rho = -K * T * disc * nmd2
	}

	return Result{
		Price: k.floor(price),
		Greeks: Greeks{
			Delta: delta,
			Gamma: pdf / (S * vol * sqrtT),
			Theta: theta / daysPerYear,
			Vega:  S * sqrtT * pdf / perPoint,
			Rho:   rho / perPoint,
		},
	}, nil
}

func (k *Kernel) validate(in Inputs) (float64, error) {
	fields := [...]struct {
		name string
		v    float64
	}{
		{"spot", in.Spot}, {"strike", in.Strike}, {"time", in.T}, {"rate", in.Rate}, {"volatility", in.Vol},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return 0, fmt.Errorf("%s is not finite: %w", f.name, ErrNumericalDomain)
		}
	}
	if !in.Kind.Valid() {
		return 0, fmt.Errorf("unknown option kind %q: %w", in.Kind, ErrNumericalDomain)
	}
	if in.Spot <= 0 {
		return 0, fmt.Errorf("spot %v must be positive: %w", in.Spot, ErrNumericalDomain)
	}
	if in.Strike <= 0 {
		return 0, fmt.Errorf("strike %v must be positive: %w", in.Strike, ErrNumericalDomain)
	}
	if in.T < 0 {
		return 0, fmt.Errorf("time to expiry %v is negative: %w", in.T, ErrNumericalDomain)
	}

	vol := in.Vol
	if vol == 0 {
		vol = k.cfg.VolFloor
	}
	if vol <= 0 {
		return 0, fmt.Errorf("volatility %v must be positive: %w", in.Vol, ErrNumericalDomain)
	}
	return vol, nil
}

func (k *Kernel) atExpiry(in Inputs) Result {
	var delta float64
	switch in.Kind {
	case Call:
		if in.Spot > in.Strike {
			delta = 1
		}
	case Put:
		if in.Spot < in.Strike {
			delta = -1
		}
	}
	return Result{
		Price:  k.floor(Intrinsic(in.Kind, in.Spot, in.Strike)),
		Greeks: Greeks{Delta: delta},
	}
}

func (k *Kernel) floor(p float64) float64 {
	if p < k.cfg.MinTick {
		return k.cfg.MinTick
	}
	return p
}

// Intrinsic is max(S-K,0) for calls and max(K-S,0) for puts.
func Intrinsic(kind Kind, spot, strike float64) float64 {
	var v float64
	if kind == Call {
		v = spot - strike
	} else {
		v = strike - spot
	}
	if v < 0 {
		return 0
	}
	return v
}

// YearFraction converts a duration in seconds to years on an ACT/365 basis.
func YearFraction(seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return seconds / (daysPerYear * 24 * 3600)
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
