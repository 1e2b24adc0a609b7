// internal/workers/maps/delete-maps/models.go
package deletemaps

type Input struct {
	MapIDs []string `json:"mapIds"`
}

// Output lists the removed ids and the ids that did not exist.
type Output struct {
	Deleted  []string `json:"deleted"`
	NotFound []string `json:"notFound"`
}
