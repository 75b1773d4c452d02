package signature

import "context"

// FormatXML is the only file format signatures are verified in
const FormatXML = "xml"

// Verifier checks the signature of one file format
type Verifier interface {
	// Verify returns the detailed check outcomes. The error is set when no
	// verification could be attempted.
	Verify(ctx context.Context, data []byte) (*VerificationResult, error)

	// CanVerify reports whether data is in the verifier's format
	CanVerify(data []byte) bool

	Format() string
}

// Signer produces a signed copy of a document
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// VerifierRegistry holds registered verifiers for different formats
type VerifierRegistry struct {
	verifiers []Verifier
}

// NewVerifierRegistry creates a registry holding verifiers
func NewVerifierRegistry(verifiers ...Verifier) *VerifierRegistry {
	r := &VerifierRegistry{verifiers: make([]Verifier, 0, len(verifiers))}
	for _, v := range verifiers {
		r.Register(v)
	}
	return r
}

// Register adds a verifier to the registry
func (r *VerifierRegistry) Register(v Verifier) {
	if v != nil {
		r.verifiers = append(r.verifiers, v)
	}
}

// Detect finds a verifier that can handle the given data
func (r *VerifierRegistry) Detect(data []byte) (Verifier, error) {
	for _, v := range r.verifiers {
		if v.CanVerify(data) {
			return v, nil
		}
	}
	return nil, ErrUnsupportedFormat("unknown")
}

// Verify verifies signature using the appropriate verifier
func (r *VerifierRegistry) Verify(ctx context.Context, data []byte) (*VerificationResult, error) {
	verifier, err := r.Detect(data)
	if err != nil {
		return nil, err
	}
	return verifier.Verify(ctx, data)
}

// GetVerifier returns the verifier of a format, nil if none
func (r *VerifierRegistry) GetVerifier(format string) Verifier {
	for _, v := range r.verifiers {
		if v.Format() == format {
			return v
		}
	}
	return nil
}

// AvailableFormats lists the formats that can be verified
func (r *VerifierRegistry) AvailableFormats() []string {
	formats := make([]string, 0, len(r.verifiers))
	for _, v := range r.verifiers {
		formats = append(formats, v.Format())
	}
	return formats
}
