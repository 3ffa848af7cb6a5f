package booking

import "courtside/internal/models"

// Registry is the in-memory court catalogue loaded from configuration.
type Registry struct {
	byID    map[int64]models.Court
	ordered []models.Court
}

func NewRegistry(courts []models.Court) *Registry {
	r := &Registry{byID: make(map[int64]models.Court, len(courts))}
	for _, court := range courts {
		r.byID[court.ID] = court
		r.ordered = append(r.ordered, court)
	}
	return r
}

func (r *Registry) Court(id int64) (models.Court, bool) {
	court, ok := r.byID[id]
	return court, ok
}

func (r *Registry) Courts() []models.Court {
	out := make([]models.Court, len(r.ordered))
	copy(out, r.ordered)
	return out
}
