package catalog

import "encoding/json"

func objectWithID(field string) json.RawMessage {
	return json.RawMessage(`{
	"type": "object",
	"properties": {"` + field + `": {"type": "string", "minLength": 1}}
}`)
}

// Defaults are the events emitted by the paralegal workflow.
var Defaults = []Definition{
	{
		Name:        "case.created",
		Description: "A new IP matter was opened.",
		Group:       "case",
		Schema:      objectWithID("caseId"),
		Example:     json.RawMessage(`{"caseId":"case_123","type":"trademark","title":"ACME word mark"}`),
	},
	{
		Name:        "case.updated",
		Description: "Matter details changed.",
		Group:       "case",
		Schema:      objectWithID("caseId"),
	},
	{
		Name:        "case.closed",
		Description: "A matter was closed or abandoned.",
		Group:       "case",
		Schema:      objectWithID("caseId"),
	},
	{
		Name:        "recording.uploaded",
		Description: "An audio recording finished uploading.",
		Group:       "recording",
		Schema:      objectWithID("recordingId"),
	},
	{
		Name:        "transcript.completed",
		Description: "Transcription of a recording finished.",
		Group:       "transcript",
		Schema:      objectWithID("transcriptId"),
	},
	{
		Name:        "extraction.completed",
		Description: "Entity extraction over a transcript finished.",
		Group:       "extraction",
		Schema:      objectWithID("extractionId"),
	},
	{
		Name:        "form.generated",
		Description: "A patent, trademark or copyright form was populated.",
		Group:       "form",
		Schema:      objectWithID("formId"),
		Example:     json.RawMessage(`{"formId":"form_9","kind":"USPTO-TEAS","caseId":"case_123"}`),
	},
	{
		Name:        "form.submitted",
		Description: "A populated form was filed.",
		Group:       "form",
		Schema:      objectWithID("formId"),
	},
}

// Default returns a registry of Defaults.
func Default() *Registry {
	return NewRegistry(Defaults...)
}
