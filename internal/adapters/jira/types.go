package jira

// createIssueRequest is the body of POST /rest/api/3/issue.
type createIssueRequest struct {
	Fields map[string]any `json:"fields"`
}

// createdIssue is the 201 response of the issue-create endpoint.
type createdIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// Issue represents a single Jira issue from the REST API.
type Issue struct {
	ID     string         `json:"id"`
	Key    string         `json:"key"`
	Self   string         `json:"self"`
	Fields map[string]any `json:"fields"`
}

// Status represents the status of a Jira issue.
type Status struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Transition represents a possible status transition for a Jira issue.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   Status `json:"to"`
}

// TransitionsResponse wraps the list of transitions returned by the API.
type TransitionsResponse struct {
	Transitions []Transition `json:"transitions"`
}

type transitionRequest struct {
	Transition struct {
		ID string `json:"id"`
	} `json:"transition"`
}

// Comment is the response of the add-comment endpoint.
type Comment struct {
	ID   string `json:"id"`
	Self string `json:"self"`
}

// AttachmentMeta is one entry of the attachment upload response.
type AttachmentMeta struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// ErrorResponse is the standard Jira error response format.
type ErrorResponse struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
}
