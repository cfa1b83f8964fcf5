package coordinator

// State is the submission pipeline's position for one operation. States only
// move forward; a retry (nonce rebuild, payment fallback) re-enters Building
// with a fresh operation instance rather than rewinding the old one.
type State int

const (
	StateIdle State = iota
	StateBuilding
	StateCheckingDeployment
	StateDeploying
	StateCheckingApproval
	StateApproving
	StateSponsoring
	StateSigning
	StateSubmitting
	StateAwaitingReceipt
	StateConfirmed
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:               "idle",
	StateBuilding:           "building",
	StateCheckingDeployment: "checking_deployment",
	StateDeploying:          "deploying",
	StateCheckingApproval:   "checking_approval",
	StateApproving:          "approving",
	StateSponsoring:         "sponsoring",
	StateSigning:            "signing",
	StateSubmitting:         "submitting",
	StateAwaitingReceipt:    "awaiting_receipt",
	StateConfirmed:          "confirmed",
	StateFailed:             "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the pipeline is done with the operation.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}
