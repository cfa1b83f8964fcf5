package paymaster

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentKind enumerates how gas for an operation gets paid.
type PaymentKind string

const (
	// Sponsored gas is absorbed by the paymaster for free.
	Sponsored = PaymentKind("SPONSORED")
	// PrepayToken charges the wallet's ERC20 balance before execution.
	PrepayToken = PaymentKind("ERC20_PREPAY")
	// PostpayToken charges the ERC20 balance after execution.
	PostpayToken = PaymentKind("ERC20_POSTPAY")
)

// PaymentMethod is attached to an operation before sponsorship. It may change
// across a fallback retry but never mid-submission.
type PaymentMethod struct {
	Kind PaymentKind

	// Token is the gas token address; zero for Sponsored.
	Token common.Address
}

func SponsoredMethod() PaymentMethod {
	return PaymentMethod{Kind: Sponsored}
}

func PrepayMethod(token common.Address) PaymentMethod {
	return PaymentMethod{Kind: PrepayToken, Token: token}
}

func PostpayMethod(token common.Address) PaymentMethod {
	return PaymentMethod{Kind: PostpayToken, Token: token}
}

// TokenBased reports whether gas is paid in an ERC20 token.
func (m PaymentMethod) TokenBased() bool {
	return m.Kind == PrepayToken || m.Kind == PostpayToken
}

// RequiresDeployedWallet reports whether this payment method needs the wallet
// contract on-chain before submission. Token methods always do (the paymaster
// pulls tokens from the wallet during validation); sponsored gas tolerates
// lazy init-code-in-place deployment.
func (m PaymentMethod) RequiresDeployedWallet() bool {
	return m.TokenBased()
}

func (m PaymentMethod) String() string {
	if m.TokenBased() {
		return fmt.Sprintf("%s(%s)", m.Kind, m.Token.Hex())
	}
	return string(m.Kind)
}

// NextFallback returns the method after m in the fixed preference order
// Sponsored -> PrepayToken(default) -> PostpayToken(default). ok is false at
// the end of the chain.
func (m PaymentMethod) NextFallback(defaultToken common.Address) (PaymentMethod, bool) {
	switch m.Kind {
	case Sponsored:
		return PrepayMethod(defaultToken), true
	case PrepayToken:
		return PostpayMethod(defaultToken), true
	}
	return PaymentMethod{}, false
}
