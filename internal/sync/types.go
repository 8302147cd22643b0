package sync

// Action is the kind of mutation an operation or remote change carries.
type Action string

const (
	ActionUpsert Action = "upsert"
	ActionDelete Action = "delete"
)

// ValidAction reports whether a is a known action.
func ValidAction(a Action) bool {
	return a == ActionUpsert || a == ActionDelete
}

// Entity tags. One applier exists per tag.
const (
	EntityRelease = "release"
	EntityNote    = "note"
)

// Status is the overall outcome of one sync cycle.
type Status string

const (
	StatusOK              Status = "ok"
	StatusUnauthenticated Status = "unauthenticated"
)

// Conflict reasons reported by the server.
const (
	ReasonVersionConflict  = "version_conflict"
	ReasonValidationFailed = "validation_failed"
	ReasonNotFound         = "not_found"
	ReasonForbidden        = "forbidden"
)

// Result summarises one RunOnce cycle.
type Result struct {
	Status    Status `json:"status"`
	Pushed    int    `json:"pushed"`
	Pulled    int    `json:"pulled"`
	Conflicts int    `json:"conflicts"`
	Cursor    int64  `json:"cursor"`
}
