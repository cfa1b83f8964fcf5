package coordinator

import (
	"crypto/rand"

	"github.com/blocklotto/aa-pipeline/core/paymaster"
	"github.com/blocklotto/aa-pipeline/pkg/logger"
)

// ExecutionEnv is the environment strategy selected once at construction.
// It decides what happens when sponsorship fails, instead of scattering
// environment checks through the pipeline.
type ExecutionEnv interface {
	// MaskSponsorFailure may substitute a fabricated sponsorship result for
	// a failed one. The real environment never does; the sandbox does, so
	// local test harnesses can exercise the signing and submission stages
	// without a live paymaster.
	MaskSponsorFailure(method paymaster.PaymentMethod, err error) (*paymaster.SponsorshipResult, bool)

	Name() string
}

// RealEnv propagates every sponsorship failure unchanged.
type RealEnv struct{}

func (RealEnv) MaskSponsorFailure(paymaster.PaymentMethod, error) (*paymaster.SponsorshipResult, bool) {
	return nil, false
}

func (RealEnv) Name() string { return "real" }

// SandboxEnv fabricates sponsorship results when the paymaster refuses or is
// unreachable. Operations carrying the fabricated data will not validate on a
// real chain; this exists purely for local harnesses.
type SandboxEnv struct {
	Logger logger.Logger
}

func (e SandboxEnv) MaskSponsorFailure(method paymaster.PaymentMethod, err error) (*paymaster.SponsorshipResult, bool) {
	fake := make([]byte, 84)
	if _, randErr := rand.Read(fake); randErr != nil {
		return nil, false
	}
	if e.Logger != nil {
		e.Logger.Warn("sandbox masked sponsorship failure with fabricated data",
			"payment", method.String(), "error", err)
	}
	return &paymaster.SponsorshipResult{PaymasterAndData: fake}, true
}

func (SandboxEnv) Name() string { return "sandbox" }
