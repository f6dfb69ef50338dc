package conversation

import "strings"

// ExtractQuestions mines follow-up questions from a generated reply.
//
// The reply is split into lines and every line whose trimmed text ends with an
// ASCII '?' is a question. The first becomes head and the remaining ones, in
// order, become rest. ok is false when the reply holds no question at all,
// which means it is a finalized task answer.
//
// Only the ASCII question mark counts: a full-width '？' or a '?' in the middle
// of a line does not make a question.
func ExtractQuestions(reply string) (head string, rest []string, ok bool) {
	var questions []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasSuffix(line, "?") {
			questions = append(questions, line)
		}
	}

	if len(questions) == 0 {
		return "", nil, false
	}

	return questions[0], questions[1:], true
}

// FirstLine returns the text of reply before its first newline.
func FirstLine(reply string) string {
	reply = strings.TrimSpace(reply)
	line, _, _ := strings.Cut(reply, "\n")
	return strings.TrimRight(line, "\r")
}
