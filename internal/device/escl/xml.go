package escl

import "encoding/xml"

const (
	nsScan = "http://schemas.hp.com/imaging/escl/2011/05/03"
	nsPwg  = "http://www.pwg.org/schemas/2010/12/sm"
)

// capabilities is the subset of ScannerCapabilities the transport uses.
type capabilities struct {
	XMLName      xml.Name `xml:"ScannerCapabilities"`
	Version      string   `xml:"Version"`
	MakeAndModel string   `xml:"MakeAndModel"`
	Platen       *platen  `xml:"Platen"`
	Adf          *adf     `xml:"Adf"`
}

type platen struct {
	InputCaps inputCaps `xml:"PlatenInputCaps"`
}

type adf struct {
	InputCaps inputCaps `xml:"AdfSimplexInputCaps"`
}

type inputCaps struct {
	MaxWidth     int      `xml:"MaxWidth"`
	MaxHeight    int      `xml:"MaxHeight"`
	ColorModes   []string `xml:"SettingProfiles>SettingProfile>ColorModes>ColorMode"`
	XResolutions []int    `xml:"SettingProfiles>SettingProfile>SupportedResolutions>DiscreteResolutions>DiscreteResolution>XResolution"`
}

func (c *capabilities) inputCaps() []inputCaps {
	var out []inputCaps
	if c.Platen != nil {
		out = append(out, c.Platen.InputCaps)
	}
	if c.Adf != nil {
		out = append(out, c.Adf.InputCaps)
	}
	return out
}

// supportsColorMode reports whether any input source lists mode. Scanners
// that publish no profiles are assumed to accept anything.
func (c *capabilities) supportsColorMode(mode string) bool {
	listed := false
	for _, ic := range c.inputCaps() {
		for _, m := range ic.ColorModes {
			listed = true
			if m == mode {
				return true
			}
		}
	}
	return !listed
}

func (c *capabilities) supportsResolution(dpi int) bool {
	listed := false
	for _, ic := range c.inputCaps() {
		for _, r := range ic.XResolutions {
			listed = true
			if r == dpi {
				return true
			}
		}
	}
	return !listed
}

type scannerStatus struct {
	XMLName  xml.Name `xml:"ScannerStatus"`
	State    string   `xml:"State"`
	AdfState string   `xml:"AdfState"`
}

// scanSettings is the ScanJobs request body. Element names carry their
// prefixes literally since encoding/xml cannot emit prefixed namespaces.
type scanSettings struct {
	XMLName        xml.Name     `xml:"scan:ScanSettings"`
	ScanNS         string       `xml:"xmlns:scan,attr"`
	PwgNS          string       `xml:"xmlns:pwg,attr"`
	Version        string       `xml:"pwg:Version"`
	Regions        []scanRegion `xml:"pwg:ScanRegions>pwg:ScanRegion"`
	InputSource    string       `xml:"pwg:InputSource"`
	ColorMode      string       `xml:"scan:ColorMode"`
	XResolution    int          `xml:"scan:XResolution"`
	YResolution    int          `xml:"scan:YResolution"`
	DocumentFormat string       `xml:"pwg:DocumentFormat"`
}

type scanRegion struct {
	Height             int    `xml:"pwg:Height"`
	ContentRegionUnits string `xml:"pwg:ContentRegionUnits"`
	Width              int    `xml:"pwg:Width"`
	XOffset            int    `xml:"pwg:XOffset"`
	YOffset            int    `xml:"pwg:YOffset"`
}
