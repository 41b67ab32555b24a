package brief

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/blockbrief/blockbrief/internal/geo"
)

const blockIDPrefix = "v1_"

var (
	// ErrUnsupportedVersion is returned for block ids without the v1 prefix.
	ErrUnsupportedVersion = errors.New("Unsupported block id version") //nolint:stylecheck // surfaced to clients verbatim

	// ErrInvalidBlockID is returned for v1 ids whose payload does not decode.
	ErrInvalidBlockID = errors.New("invalid block id")
)

// BlockPayload is the location snapshot carried in a shareable block id.
type BlockPayload struct {
	Lat               float64
	Lon               float64
	BBL               string
	BIN               string
	Borough           string
	NormalizedAddress string
	CommunityDistrict string
	CouncilDistrict   string
	ZipCode           string
}

type blockPayloadJSON struct {
	V                 int      `json:"v"`
	Lat               *float64 `json:"lat"`
	Lon               *float64 `json:"lon"`
	BBL               string   `json:"bbl,omitempty"`
	BIN               string   `json:"bin,omitempty"`
	Borough           string   `json:"borough,omitempty"`
	NormalizedAddress string   `json:"normalized_address,omitempty"`
	CommunityDistrict string   `json:"community_district,omitempty"`
	CouncilDistrict   string   `json:"council_district,omitempty"`
	ZipCode           string   `json:"zip_code,omitempty"`

	// Norough is a misspelling found in some early ids.
	Norough string `json:"norough,omitempty"`
}

// EncodeBlockID renders p as a shareable id. Coordinates are rounded to five
// decimal places.
func EncodeBlockID(p BlockPayload) string {
	lat, lon := geo.Round5(p.Lat), geo.Round5(p.Lon)
	raw, _ := json.Marshal(blockPayloadJSON{
		V:                 1,
		Lat:               &lat,
		Lon:               &lon,
		BBL:               p.BBL,
		BIN:               p.BIN,
		Borough:           p.Borough,
		NormalizedAddress: p.NormalizedAddress,
		CommunityDistrict: p.CommunityDistrict,
		CouncilDistrict:   p.CouncilDistrict,
		ZipCode:           p.ZipCode,
	})
	return blockIDPrefix + base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeBlockID parses an id produced by EncodeBlockID.
func DecodeBlockID(id string) (BlockPayload, error) {
	if !strings.HasPrefix(id, blockIDPrefix) {
		return BlockPayload{}, ErrUnsupportedVersion
	}
	encoded := strings.TrimRight(strings.TrimPrefix(id, blockIDPrefix), "=")
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return BlockPayload{}, fmt.Errorf("%w: %v", ErrInvalidBlockID, err)
	}

	var j blockPayloadJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return BlockPayload{}, fmt.Errorf("%w: %v", ErrInvalidBlockID, err)
	}
	if j.V != 1 {
		return BlockPayload{}, fmt.Errorf("%w: payload version %d", ErrInvalidBlockID, j.V)
	}
	if j.Lat == nil || j.Lon == nil {
		return BlockPayload{}, fmt.Errorf("%w: missing coordinate", ErrInvalidBlockID)
	}

	borough := j.Borough
	if borough == "" {
		borough = j.Norough
	}
	return BlockPayload{
		Lat:               *j.Lat,
		Lon:               *j.Lon,
		BBL:               j.BBL,
		BIN:               j.BIN,
		Borough:           borough,
		NormalizedAddress: j.NormalizedAddress,
		CommunityDistrict: j.CommunityDistrict,
		CouncilDistrict:   j.CouncilDistrict,
		ZipCode:           j.ZipCode,
	}, nil
}

// PayloadFromLocation snapshots a resolved location for sharing.
func PayloadFromLocation(loc ResolvedLocation) BlockPayload {
	return BlockPayload{
		Lat:               loc.Lat,
		Lon:               loc.Lon,
		BBL:               loc.BBL,
		BIN:               loc.BIN,
		Borough:           loc.Borough,
		NormalizedAddress: loc.NormalizedAddress,
		CommunityDistrict: loc.CommunityDistrict,
		CouncilDistrict:   loc.CouncilDistrict,
		ZipCode:           loc.ZipCode,
	}
}

// Location turns a decoded payload back into a brief input.
func (p BlockPayload) Location() ResolvedLocation {
	addr := p.NormalizedAddress
	if addr == "" {
		addr = fmt.Sprintf("%.5f, %.5f", p.Lat, p.Lon)
	}
	return ResolvedLocation{
		NormalizedAddress: addr,
		Geocoder:          GeocoderShareID,
		Lat:               p.Lat,
		Lon:               p.Lon,
		BBL:               p.BBL,
		BIN:               p.BIN,
		Borough:           p.Borough,
		CommunityDistrict: p.CommunityDistrict,
		CouncilDistrict:   p.CouncilDistrict,
		ZipCode:           p.ZipCode,
	}
}
