package thumbnail

import (
	"fmt"
	"path"
	"slices"
	"strings"
)

// Label names one of the fixed derivative sizes.
type Label string

const (
	LabelThumb Label = "thumb" // list contexts
	LabelCard  Label = "card"  // card contexts
	LabelLarge Label = "large" // detail contexts
)

// Size is a bounding box in pixels.
type Size struct {
	Width  int
	Height int
}

// Labels lists every label in the order derivatives are produced.
var Labels = []Label{LabelThumb, LabelCard, LabelLarge}

var sizes = map[Label]Size{
	LabelThumb: {Width: 250, Height: 250},
	LabelCard:  {Width: 800, Height: 600},
	LabelLarge: {Width: 1200, Height: 900},
}

func ParseLabel(s string) (Label, error) {
	l := Label(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := sizes[l]; !ok {
		return "", fmt.Errorf("unknown size label %q", s)
	}
	return l, nil
}

// Size returns the bounding box for l. Unknown labels yield the zero Size.
func (l Label) Size() Size {
	return sizes[l]
}

func (l Label) String() string {
	return string(l)
}

// DerivedKey maps an original key to the key of its derivative for label:
// stem + "_" + label + ext. Every existence check, write and URL goes through here.
func DerivedKey(originalKey string, label Label) string {
	ext := path.Ext(originalKey)
	return strings.TrimSuffix(originalKey, ext) + "_" + string(label) + ext
}

var derivableExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}

// Derivable reports whether files with ext can be decoded and resized.
func Derivable(ext string) bool {
	return slices.Contains(derivableExts, strings.ToLower(ext))
}

// DerivableExtensions lists the extensions Derivable accepts.
func DerivableExtensions() []string {
	return slices.Clone(derivableExts)
}
