package prover

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

const sampleProofJSON = `{
	"pi_a": ["11", "12", "1"],
	"pi_b": [["21", "22"], ["23", "24"], ["1", "0"]],
	"pi_c": ["31", "32", "1"],
	"protocol": "groth16",
	"curve": "bn128"
}`

func TestDecodeProof(t *testing.T) {
	c := qt.New(t)
	proof, err := decodeProof(sampleProofJSON, `["101", "102"]`)
	c.Assert(err, qt.IsNil)

	// [a.x, a.y, b.x1, b.x0, b.y1, b.y0, c.x, c.y]: the G2 coordinates come
	// out swapped inside each pair
	want := []int64{11, 12, 22, 21, 24, 23, 31, 32}
	for i, w := range want {
		c.Assert(proof.Raw[i].Int64(), qt.Equals, w, qt.Commentf("element %d", i))
	}
	c.Assert(proof.PublicSignals, qt.HasLen, 2)
	c.Assert(proof.PublicSignals[0].Int64(), qt.Equals, int64(101))
	c.Assert(proof.PublicSignals[1].Int64(), qt.Equals, int64(102))
}

func TestDecodeProofMalformed(t *testing.T) {
	c := qt.New(t)
	_, err := decodeProof(`{`, `[]`)
	c.Assert(err, qt.IsNotNil)
	_, err = decodeProof(sampleProofJSON, `["not-a-number"]`)
	c.Assert(err, qt.ErrorMatches, ".*invalid public signal.*")
}

func TestNewFromArtifactsRequiresContent(t *testing.T) {
	c := qt.New(t)
	_, err := NewFromArtifacts(NewCircuitArtifacts(&Artifact{}, &Artifact{}, nil))
	c.Assert(err, qt.ErrorMatches, "circuit artifacts not loaded")
}
