// Package viewport abstracts the scrollable surfaces and element visibility of a
// rendered product list.
//
// The feed engine only sees three small interfaces: Surface (something that
// scrolls), Viewport (the prioritized set of candidate surfaces and their
// scroll events) and Visibility (a single "became visible" event for an
// observed element). Remote is the production implementation, mirroring the
// surfaces a storefront client reports over the API.
package viewport

// Kind classifies a scroll surface candidate. Candidates are probed in the
// order the kinds are declared.
type Kind int

const (
	// KindDocument is the document's principal scrolling element.
	KindDocument Kind = iota
	// KindBody is the document body.
	KindBody
	// KindRoot is the application's designated root container.
	KindRoot
	// KindElement is any other element with its own overflow.
	KindElement
)

// ParseKind maps the client's surface kind name to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "document":
		return KindDocument, true
	case "body":
		return KindBody, true
	case "root":
		return KindRoot, true
	case "element":
		return KindElement, true
	default:
		return 0, false
	}
}

func (k Kind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindBody:
		return "body"
	case KindRoot:
		return "root"
	default:
		return "element"
	}
}

// Overflow is the computed CSS overflow of a surface.
type Overflow string

const (
	OverflowVisible Overflow = "visible"
	OverflowHidden  Overflow = "hidden"
	OverflowAuto    Overflow = "auto"
	OverflowScroll  Overflow = "scroll"
	OverflowOverlay Overflow = "overlay"
)

// scrolls reports whether the overflow lets an element scroll its own content.
func (o Overflow) scrolls() bool {
	return o == OverflowAuto || o == OverflowScroll || o == OverflowOverlay
}

// Surface is one scrollable area.
type Surface interface {
	ID() string
	// Offset returns the current vertical scroll position.
	Offset() float64
	// Scrollable reports whether content exceeds the visible bounds and the
	// surface is allowed to scroll.
	Scrollable() bool
	// ScrollTo sets the vertical scroll position directly.
	ScrollTo(offset float64)
}

// Viewport is the viewport signal consumed by the scroll tracker.
type Viewport interface {
	// Candidates returns the surfaces that may be scrolling the view, in probe
	// priority order.
	Candidates() []Surface
	// OnScroll registers fn for scroll and touch-move activity on every
	// candidate. The returned func removes the registration.
	OnScroll(fn func(Surface)) (cancel func())
}

// Active returns the first genuinely scrollable candidate, falling back to the
// first candidate when none scrolls. It returns nil when there are no
// candidates.
func Active(vp Viewport) Surface {
	candidates := vp.Candidates()
	for _, s := range candidates {
		if s.Scrollable() {
			return s
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return nil
}

// Visibility reports when an observed element becomes visible.
type Visibility interface {
	// Observe calls onVisible every time the element with the given id goes
	// from hidden to visible. The returned func disposes the observation.
	Observe(id string, onVisible func()) (cancel func())
}
