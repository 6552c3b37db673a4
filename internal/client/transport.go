package client

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/imagen-apex/apex/internal/utils/imageutil"
)

// ArtifactField is the response field holding the base64 encoded artifact.
const ArtifactField = "ply"

type TransportKind int

const (
	KindHTTP TransportKind = iota
	KindManaged
)

func (k TransportKind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindManaged:
		return "managed"
	default:
		return "unknown"
	}
}

// Kind classifies an endpoint identifier: URLs use the direct HTTP
// transport, anything else is a managed endpoint display name.
func Kind(endpoint string) TransportKind {
	lower := strings.ToLower(endpoint)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return KindHTTP
	}

	return KindManaged
}

// Payload is the request body shared by both transports.
type Payload struct {
	Image string `json:"image"`
	Mask  string `json:"mask,omitempty"`
	Seed  int64  `json:"seed"`
}

// Artifact is the reconstructed 3D scene as PLY bytes.
type Artifact struct {
	Data []byte
}

type Transport interface {
	Predict(ctx context.Context, payload *Payload) (*Artifact, error)
	Health(ctx context.Context) bool
}

// Prediction is a managed-endpoint result, either a mapping holding the
// artifact field or the bare artifact.
type Prediction interface {
	prediction()
}

type StructuredPrediction struct {
	PLY string
}

type RawPrediction struct {
	Data string
}

func (StructuredPrediction) prediction() {}
func (RawPrediction) prediction()        {}

func decodePrediction(raw json.RawMessage) (Prediction, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return RawPrediction{Data: s}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &UnexpectedResponseError{Detail: "prediction is neither an object nor a string", Err: err}
	}

	value, ok := fields[ArtifactField]
	if !ok {
		return nil, &UnexpectedResponseError{Detail: "prediction has no " + ArtifactField + " field"}
	}

	var ply string
	if err := json.Unmarshal(value, &ply); err != nil {
		return nil, &UnexpectedResponseError{Detail: ArtifactField + " is not a string", Err: err}
	}

	return StructuredPrediction{PLY: ply}, nil
}

func artifactFromPrediction(p Prediction) (*Artifact, error) {
	var encoded string
	switch v := p.(type) {
	case StructuredPrediction:
		encoded = v.PLY
	case RawPrediction:
		encoded = v.Data
	default:
		return nil, &UnexpectedResponseError{Detail: "unknown prediction shape"}
	}

	return decodeArtifact(encoded)
}

func decodeArtifact(encoded string) (*Artifact, error) {
	data, err := imageutil.DecodeBase64(encoded)
	if err != nil {
		return nil, &UnexpectedResponseError{Detail: "artifact is not valid base64", Err: err}
	}

	return &Artifact{Data: data}, nil
}
