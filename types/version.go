package types

// Version is the canonical project version.
// The CLI, the envelope contract, and the telemetry contract share this
// version; a worker refuses to serve a peer that reports a different one.
const Version = "0.4.0"

// ContractVersion is the version of the envelope contract carried on the
// gateway/controller pipe and the telemetry pipe.
const ContractVersion = Version
