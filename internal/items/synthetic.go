package items

import (
	"fmt"

	"github.com/routeharness/routeharness/pkg/types"
)

// modalityShape describes one synthetic study variant.
type modalityShape struct {
	modality    string
	seriesDesc  string
	payloadSize int
}

// Shapes roughly matching the diversity of a real imaging mix: small
// single-frame captures up to larger cross-sectional slices.
var defaultShapes = []modalityShape{
	{modality: "CR", seriesDesc: "Chest PA", payloadSize: 4 << 10},
	{modality: "CT", seriesDesc: "Axial Head", payloadSize: 16 << 10},
	{modality: "MR", seriesDesc: "T2 Sagittal", payloadSize: 16 << 10},
	{modality: "US", seriesDesc: "Abdomen", payloadSize: 8 << 10},
	{modality: "OPV", seriesDesc: "GPA", payloadSize: 2 << 10},
	{modality: "OPT", seriesDesc: "Macular Cube", payloadSize: 8 << 10},
}

// Synthetic fabricates a small fixed set of in-memory work items for runs
// without a dataset directory. Payload bytes are deterministic filler; the
// attributes are what matter to routing.
func Synthetic() []types.WorkItem {
	out := make([]types.WorkItem, 0, len(defaultShapes))
	for i, shape := range defaultShapes {
		payload := make([]byte, shape.payloadSize)
		for j := range payload {
			payload[j] = byte(i + j)
		}
		out = append(out, types.WorkItem{
			SourceFile: fmt.Sprintf("synthetic/%s", shape.modality),
			Payload:    payload,
			Attributes: types.AttributeSet{
				{Name: "Modality", Value: shape.modality},
				{Name: "SeriesDescription", Value: shape.seriesDesc},
			},
		})
	}
	return out
}
