package imaging

import "context"

// Names of the built-in integrity checks
const (
	CheckTextConsistency   = "text_consistency"
	CheckPixelManipulation = "pixel_manipulation"
	CheckMetadata          = "metadata"
)

// Image is a decoded certificate image header plus its raw bytes
type Image struct {
	Source string
	Format string
	Width  int
	Height int
	Data   []byte
}

// Check scores one integrity signal on a 0..1 scale, where 1 is clean
type Check interface {
	Name() string
	Evaluate(ctx context.Context, img *Image) (float64, error)
}

// ConstantCheck always returns the same score. The text consistency and
// pixel manipulation signals use it until a forensics backend is wired in.
type ConstantCheck struct {
	CheckName string
	Score     float64
}

// Name returns the check name
func (c ConstantCheck) Name() string { return c.CheckName }

// Evaluate returns the fixed score
func (c ConstantCheck) Evaluate(ctx context.Context, _ *Image) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.Score, nil
}

// MetadataCheck inspects the decoded header. Images smaller than
// MinDimension on either side are scored down.
type MetadataCheck struct {
	Baseline     float64
	Penalized    float64
	MinDimension int
}

// Name returns the check name
func (MetadataCheck) Name() string { return CheckMetadata }

// Evaluate scores the image header
func (m MetadataCheck) Evaluate(ctx context.Context, img *Image) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if img.Width < m.MinDimension || img.Height < m.MinDimension {
		return m.Penalized, nil
	}
	return m.Baseline, nil
}

// DefaultChecks returns the built-in checks
func DefaultChecks() []Check {
	return []Check{
		ConstantCheck{CheckName: CheckTextConsistency, Score: 0.85},
		ConstantCheck{CheckName: CheckPixelManipulation, Score: 0.9},
		MetadataCheck{Baseline: 0.8, Penalized: 0.5, MinDimension: 64},
	}
}

var issueMessages = map[string]string{
	CheckTextConsistency:   "Text regions in the image appear inconsistent",
	CheckPixelManipulation: "Pixel patterns suggest possible manipulation",
	CheckMetadata:          "Image metadata is inconsistent with an original certificate",
}

func issueFor(name string) string {
	if msg, ok := issueMessages[name]; ok {
		return msg
	}
	return "Integrity check " + name + " scored low"
}
