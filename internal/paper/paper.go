// Package paper defines the core domain types for projected papers.
package paper

// Coord is a position in the 3D projection space (x, y, z).
type Coord [3]float32

// PointSet is the ordered set of papers that have a position.
// IDs[i] is the identifier of the paper at Coords[i]. The slice position,
// not the identifier, addresses a point during computation.
type PointSet struct {
	IDs    []int64
	Coords []Coord
}

// Len returns the number of points.
func (p PointSet) Len() int {
	return len(p.IDs)
}

// Paper is the full record for one paper as served by the API.
type Paper struct {
	ID              int64    `json:"id"`
	Title           *string  `json:"title"`
	Summarization   *string  `json:"summarization"`
	X               *float64 `json:"x"`
	Y               *float64 `json:"y"`
	Z               *float64 `json:"z"`
	ClusterID       *int64   `json:"cluster_id"`
	ClusterLabel    *string  `json:"cluster_label"` // claude_label when set, else cluster_label
	FieldSubfield   *string  `json:"field_subfield"`
	PublicationYear *int64   `json:"publication_year"`
	Classification  *string  `json:"classification"`
}

// Summary is the list/visualization view of a paper.
type Summary struct {
	ID              int64    `json:"id"`
	Title           *string  `json:"title"`
	X               *float64 `json:"x"`
	Y               *float64 `json:"y"`
	Z               *float64 `json:"z"`
	ClusterID       *int64   `json:"cluster_id"`
	ClusterLabel    *string  `json:"cluster_label"`
	FieldSubfield   *string  `json:"field_subfield"`
	PublicationYear *int64   `json:"publication_year"`
	Classification  *string  `json:"classification"`
}

// Summary returns the summary view of the paper.
func (p Paper) Summary() Summary {
	return Summary{
		ID:              p.ID,
		Title:           p.Title,
		X:               p.X,
		Y:               p.Y,
		Z:               p.Z,
		ClusterID:       p.ClusterID,
		ClusterLabel:    p.ClusterLabel,
		FieldSubfield:   p.FieldSubfield,
		PublicationYear: p.PublicationYear,
		Classification:  p.Classification,
	}
}

// Cluster is aggregate information about one cluster.
type Cluster struct {
	ID    int64  `json:"cluster_id"`
	Label string `json:"cluster_label"`
	Count int    `json:"count"`
	Color string `json:"color"`
}

// YearCount is the number of papers of a cluster published in one year.
type YearCount struct {
	Year  int64 `json:"year"`
	Count int   `json:"count"`
}

// ClusterTimeline is the per-year paper count of one cluster.
type ClusterTimeline struct {
	ID     int64       `json:"cluster_id"`
	Label  string      `json:"cluster_label"`
	Color  string      `json:"color"`
	Counts []YearCount `json:"temporal_data"`
}

// Classification labels stored in the papers table.
const (
	ClassFullText    = "FULL_TEXT"
	ClassPartialText = "PARTIAL_TEXT"
)

// clusterColors is the palette used for cluster ids >= 0.
var clusterColors = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
	"#aec7e8", "#ffbb78", "#98df8a", "#ff9896", "#c5b0d5",
	"#c49c94", "#f7b6d2", "#c7c7c7", "#dbdb8d", "#9edae5",
	"#393b79", "#637939", "#8c6d31", "#843c39", "#7b4173",
	"#5254a3", "#8ca252", "#bd9e39", "#ad494a", "#a55194",
}

// UnclusteredColor is the color for noise points (negative cluster ids).
const UnclusteredColor = "#E8E8E8"

// ClusterColor returns a stable color for a cluster id.
func ClusterColor(clusterID int64) string {
	if clusterID < 0 {
		return UnclusteredColor
	}
	return clusterColors[clusterID%int64(len(clusterColors))]
}
