package dataplane

// request is the body of every data plane RPC. Each method reads only the
// fields it needs.
type request struct {
	Collection string         `json:"collection,omitempty"`
	DIDs       []string       `json:"dids,omitempty"`
	Handles    []string       `json:"handles,omitempty"`
	URIs       []string       `json:"uris,omitempty"`
	Subjects   []string       `json:"subjects,omitempty"`
	Issuers    []string       `json:"issuers,omitempty"`
	Targets    []string       `json:"targets,omitempty"`
	Lists      []string       `json:"lists,omitempty"`
	Pairs      []ActorPair    `json:"pairs,omitempty"`
	Interacts  []ActorSubject `json:"interacts,omitempty"`
	DID        string         `json:"did,omitempty"`
	Viewer     string         `json:"viewer,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Anchor     string         `json:"anchor,omitempty"`
	List       string         `json:"list,omitempty"`
	Feed       string         `json:"feed,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Filter     string         `json:"filter,omitempty"`
	Cursor     string         `json:"cursor,omitempty"`
	Above      int            `json:"above,omitempty"`
	Below      int            `json:"below,omitempty"`
	Limit      int            `json:"limit,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PathPrefix is where NewHandler expects to be mounted.
const PathPrefix = "/dataplane/"
