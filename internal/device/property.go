package device

import (
	"errors"
	"fmt"
)

// ErrPropertyNotSupported is returned when a device does not expose a
// property. Negotiation treats it as a soft failure.
var ErrPropertyNotSupported = errors.New("property not supported")

// PropertyID identifies a device or item property in the transport's flat
// numeric namespace.
type PropertyID int

// Known property ids.
const (
	PropBitsPerPixel                 PropertyID = 4104
	PropCurrentIntent                PropertyID = 6146
	PropHorizontalResolution         PropertyID = 6147
	PropVerticalResolution           PropertyID = 6148
	PropHorizontalStart              PropertyID = 6149
	PropVerticalStart                PropertyID = 6150
	PropHorizontalExtent             PropertyID = 6151
	PropVerticalExtent               PropertyID = 6152
	PropDocumentHandlingCapabilities PropertyID = 3086
	PropDocumentHandlingStatus       PropertyID = 3087
	PropDocumentHandlingSelect       PropertyID = 3088
	PropPages                        PropertyID = 3096
)

// Values for PropDocumentHandlingSelect and PropDocumentHandlingStatus.
const (
	HandlingFeeder  = 1
	HandlingFlatbed = 2
)

// Values for PropCurrentIntent.
const (
	IntentColor     = 1
	IntentGrayscale = 2
	IntentText      = 4
)

// Target selects whether a property belongs to the device or to the
// transfer item.
type Target int

const (
	TargetDevice Target = iota
	TargetItem
)

func (t Target) String() string {
	if t == TargetItem {
		return "Item"
	}
	return "Device"
}

type property struct {
	name     string
	target   Target
	readOnly bool
}

var properties = map[PropertyID]property{
	PropBitsPerPixel:                 {"Bits Per Pixel", TargetItem, false},
	PropCurrentIntent:                {"Current Intent", TargetItem, false},
	PropHorizontalResolution:         {"Horizontal Resolution", TargetItem, false},
	PropVerticalResolution:           {"Vertical Resolution", TargetItem, false},
	PropHorizontalStart:              {"Horizontal Start Position", TargetItem, false},
	PropVerticalStart:                {"Vertical Start Position", TargetItem, false},
	PropHorizontalExtent:             {"Horizontal Extent", TargetItem, false},
	PropVerticalExtent:               {"Vertical Extent", TargetItem, false},
	PropDocumentHandlingCapabilities: {"Document Handling Capabilities", TargetDevice, true},
	PropDocumentHandlingStatus:       {"Document Handling Status", TargetDevice, true},
	PropDocumentHandlingSelect:       {"Document Handling Select", TargetDevice, false},
	PropPages:                        {"Pages", TargetDevice, false},
}

// Name returns the human readable property name, or the number for ids
// outside the known set.
func (id PropertyID) Name() string {
	if p, ok := properties[id]; ok {
		return p.name
	}
	return fmt.Sprintf("Property %d", int(id))
}

// Known reports whether id is part of the known property set.
func (id PropertyID) Known() bool {
	_, ok := properties[id]
	return ok
}

// checkProperty validates a property access against the registry.
func checkProperty(target Target, id PropertyID, write bool) error {
	p, ok := properties[id]
	if !ok {
		return fmt.Errorf("%w: %s %d", ErrPropertyNotSupported, target, int(id))
	}
	if p.target != target {
		return fmt.Errorf("%w: %s is a %s property", ErrPropertyNotSupported, p.name, p.target)
	}
	if write && p.readOnly {
		return fmt.Errorf("%w: %s is read-only", ErrPropertyNotSupported, p.name)
	}
	return nil
}
