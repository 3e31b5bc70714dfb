package metrics

// Pre-defined metrics for the signing-policy relay and voter registry. All
// metrics live in DefaultRegistry so they are globally accessible without
// passing a registry around.

var (
	// ---- Relay metrics ----

	// RewardEpochInstalled counts successful mode-1 initial policy installs.
	RewardEpochInstalled = DefaultRegistry.Counter("relay.reward_epoch_installed")
	// SigningPolicyRotations counts successful mode-2 policy rotations.
	SigningPolicyRotations = DefaultRegistry.Counter("relay.signing_policy_rotations")
	// ProtocolMessagesRelayed counts successful mode-3 protocol message relays.
	ProtocolMessagesRelayed = DefaultRegistry.Counter("relay.protocol_messages_relayed")
	// RelayRejections counts Relay() calls that returned an error, labeled
	// indirectly by the Core.Relay call site logging the revert reason.
	RelayRejections = DefaultRegistry.Counter("relay.rejections")
	// CurrentThresholdWeight tracks the signing threshold of the active policy.
	CurrentThresholdWeight = DefaultRegistry.Gauge("relay.threshold_weight")
	// CurrentVoterCount tracks the voter count of the active policy.
	CurrentVoterCount = DefaultRegistry.Gauge("relay.voter_count")
	// SignatureVerifyTime records the latency of one signature walk in
	// microseconds.
	SignatureVerifyTime = DefaultRegistry.Histogram("relay.sig_verify_us")

	// ---- Voter registry metrics ----

	// VotersRegistered counts successful registerVoter calls.
	VotersRegistered = DefaultRegistry.Counter("registry.voters_registered")
	// VotersEvicted counts voters evicted from the bounded top-K set.
	VotersEvicted = DefaultRegistry.Counter("registry.voters_evicted")
	// VotersChilled counts chillVoter calls.
	VotersChilled = DefaultRegistry.Counter("registry.voters_chilled")
	// SystemRegistrations counts system (governance-triggered) registrations.
	SystemRegistrations = DefaultRegistry.Counter("registry.system_registrations")
	// RegisteredVoterCount tracks the current size of the registry.
	RegisteredVoterCount = DefaultRegistry.Gauge("registry.voter_count")
	// WeightCalculationTime records CalculateRegistrationWeight latency in
	// microseconds.
	WeightCalculationTime = DefaultRegistry.Histogram("registry.weight_calc_us")

	// ---- Pre-registration metrics ----

	// PreRegistrationsAccepted counts preRegisterVoter calls that succeeded.
	PreRegistrationsAccepted = DefaultRegistry.Counter("preregistry.accepted")
	// PreRegistrationsRejected counts preRegisterVoter calls that failed
	// validation (next epoch's registration already open, voter not
	// registered in the current epoch, wrong signing address, already
	// pre-registered, etc).
	PreRegistrationsRejected = DefaultRegistry.Counter("preregistry.rejected")
	// TriggerRegistrationFailures counts per-voter failures during
	// triggerVoterRegistration batch processing; the batch itself never
	// aborts on an individual failure.
	TriggerRegistrationFailures = DefaultRegistry.Counter("preregistry.trigger_failures")

	// ---- Submission gate metrics ----

	// SubmissionsAccepted counts Submit1/2/3/SubmitSignatures calls that
	// consumed their caller's one-shot allowlist entry.
	SubmissionsAccepted = DefaultRegistry.Counter("submission.accepted")
	// SubmissionsRejected counts Submit1/2/3/SubmitSignatures calls whose
	// caller had no unconsumed allowlist entry for that phase.
	SubmissionsRejected = DefaultRegistry.Counter("submission.rejected")
	// SubmissionForwardFailures counts forwarded calls whose target reverted.
	SubmissionForwardFailures = DefaultRegistry.Counter("submission.forward_failures")
	// VotingRoundsInitialized counts initNewVotingRound calls.
	VotingRoundsInitialized = DefaultRegistry.Counter("submission.voting_rounds_initialized")

	// ---- Burn factor metrics ----

	// BurnFactorComputed records the burn factor value returned for a voting
	// round sign window, scaled to [0, 1000000].
	BurnFactorComputed = DefaultRegistry.Histogram("registry.burn_factor")

	// ---- Query API metrics ----

	// QueryAPIRequests counts incoming HTTP requests to the query API.
	QueryAPIRequests = DefaultRegistry.Counter("queryapi.requests")
	// QueryAPIErrors counts query API requests that returned a non-2xx status.
	QueryAPIErrors = DefaultRegistry.Counter("queryapi.errors")
	// QueryAPILatency records request latency in milliseconds.
	QueryAPILatency = DefaultRegistry.Histogram("queryapi.latency_ms")
)
