package schemas

import (
	"fmt"
)

// -- Page Annotation Schemas --

// BoundingBox is one interactive element found on the current page, in the
// main frame or a same-origin iframe. ID is the numeric label drawn on the
// page overlay and is unique within a single annotation pass.
type BoundingBox struct {
	ID          string  `json:"id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Text        string  `json:"text"`
	ElementType string  `json:"type"`
	AriaLabel   string  `json:"ariaLabel,omitempty"`
	// DOMID is the element's own id attribute, if any.
	DOMID string `json:"domId,omitempty"`
	// Src is only set for iframe boxes and drives the frame scan.
	Src string `json:"src,omitempty"`
}

// Label returns the most descriptive human readable text for the box.
func (b BoundingBox) Label() string {
	switch {
	case b.AriaLabel != "":
		return b.AriaLabel
	case b.Text != "":
		return b.Text
	default:
		return "No label"
	}
}

// Description renders the box the way it is presented to the predictor.
func (b BoundingBox) Description() string {
	return fmt.Sprintf("%s (<%s/>): %q", b.ID, b.ElementType, b.Label())
}

// Annotation is the result of one annotation pass over a page.
type Annotation struct {
	// Screenshot is the base64 encoded PNG taken after marking. Empty when
	// the capture failed.
	Screenshot string        `json:"screenshot"`
	BBoxes     []BoundingBox `json:"bboxes"`
	URL        string        `json:"url,omitempty"`
}
