package embed

import "github.com/amanmcp/codesearch/internal/ratelimit"

// knownProfiles maps an EMBED_MODEL value to the rolling-window limits and
// dispatch shape that model is known to support. "text-embedding-004" is
// the spec's default; "-free" names the same model under Google AI Studio's
// free-tier quota, which is low enough to require the serial profile (the
// S6 rate-ceiling scenario is specified against exactly this shape:
// rpmLimit=60, safetyFactor=0.9, serial).
var knownProfiles = map[string]ratelimit.ModelProfile{
	"text-embedding-004": {
		Name:       "text-embedding-004",
		RPMLimit:   1500,
		TPMLimit:   1_000_000,
		RPDLimit:   0,
		Parallel:   true,
		BatchSize:  DefaultBatchSize,
		Dimensions: DefaultDimensions,
	},
	"text-embedding-004-free": {
		Name:       "text-embedding-004-free",
		RPMLimit:   60,
		TPMLimit:   150_000,
		RPDLimit:   1500,
		Parallel:   false,
		BatchSize:  1,
		Dimensions: DefaultDimensions,
	},
}

// defaultUnknownProfile is used for a model name the registry doesn't
// recognize: the conservative serial profile, so an unfamiliar provider
// quota is never accidentally exceeded.
var defaultUnknownProfile = ratelimit.ModelProfile{
	RPMLimit:   60,
	TPMLimit:   150_000,
	RPDLimit:   1500,
	Parallel:   false,
	BatchSize:  1,
	Dimensions: DefaultDimensions,
}

// ProfileFor returns the ModelProfile for a configured model name and
// dimension override. An unrecognized model name falls back to the
// conservative serial profile rather than guessing at a high-RPM one.
func ProfileFor(modelName string, dimensions int) ratelimit.ModelProfile {
	profile, ok := knownProfiles[modelName]
	if !ok {
		profile = defaultUnknownProfile
		profile.Name = modelName
	}
	if dimensions > 0 {
		profile.Dimensions = dimensions
	}
	return profile
}
