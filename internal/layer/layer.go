// Package layer names the materialization points of the pipeline.
package layer

import "fmt"

// Layer is one of the durable snapshot tiers.
type Layer string

const (
	Raw     Layer = "raw"
	Cleaned Layer = "cleaned"
	Summary Layer = "summary"
)

// All lists layers in pipeline order.
var All = []Layer{Raw, Cleaned, Summary}

// Parse converts s into a Layer.
func Parse(s string) (Layer, error) {
	for _, l := range All {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown layer %q", s)
}

// Valid reports whether l is one of All.
func (l Layer) Valid() bool {
	_, err := Parse(string(l))
	return err == nil
}

// String returns the layer name.
func (l Layer) String() string { return string(l) }
