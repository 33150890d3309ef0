//go:build property

package fingerprint

import (
	"testing"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFingerprintProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	params := gen.MapOf(gen.AlphaString(), gen.AnyString())

	properties.Property("independent computations agree", prop.ForAll(
		func(hash string, kind string, p map[string]string) bool {
			in := types.Input{ContentHash: hash}
			d := types.Derivation{Kind: types.DerivationKind(kind), Params: p, ContentType: "image/webp"}

			copied := make(map[string]string, len(p))
			for k, v := range p {
				copied[k] = v
			}
			again := types.Derivation{Kind: types.DerivationKind(kind), Params: copied, ContentType: "image/webp"}
			return Of(in, d) == Of(in, again)
		},
		gen.AlphaString(), gen.AlphaString(), params,
	))

	properties.Property("fingerprints are 64 hex chars", prop.ForAll(
		func(hash string, p map[string]string) bool {
			fp := Of(types.Input{ContentHash: hash}, types.Derivation{Kind: types.KindImage, Params: p})
			return hexFingerprint.MatchString(string(fp))
		},
		gen.AnyString(), params,
	))

	properties.TestingRun(t)
}
