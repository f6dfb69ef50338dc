package conversation

import (
	"bytes"
	"encoding/json"
	"text/template"
)

const filterPromptTemplate = `You're a task assistant. Given the user message and the pending questions, return only the questions the message does not answer.
Respond with a JSON object of the form {"unanswered": ["..."]}. Copy every unanswered question exactly as written. Use an empty list when all of them are answered.

User: {{ .Utterance }}
Pending: {{ json .Pending }}`

const intentPromptTemplate = `What task is the user trying to do in this message? Respond with a JSON object of the form {"task": "<word>"} where <word> is one lower-case word like "invoice", "email" or "reminder".

{{ .Utterance }}`

var promptFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

var (
	filterPrompt = template.Must(template.New("filter").Funcs(promptFuncs).Parse(filterPromptTemplate))
	intentPrompt = template.Must(template.New("intent").Funcs(promptFuncs).Parse(intentPromptTemplate))
)

func renderPrompt(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
