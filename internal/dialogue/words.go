package dialogue

import "strings"

// Reply vocabularies for confirmation and recovery turns.

var affirmativeWords = map[string]bool{
	"yes": true, "y": true, "yeah": true, "yep": true, "sure": true,
	"ok": true, "okay": true, "confirm": true, "proceed": true,
	"go ahead": true, "do it": true, "please do": true,
}

var negativeWords = map[string]bool{
	"no": true, "n": true, "nope": true, "don't": true, "do not": true,
	"never mind": true, "nevermind": true, "abort": true,
}

var cancelWords = map[string]bool{
	"cancel": true, "stop": true, "forget it": true, "never mind": true,
	"nevermind": true, "abort": true, "cancel that": true,
}

var retryWords = map[string]bool{
	"try again": true, "retry": true, "again": true, "do it again": true,
}

func isAffirmative(normalized string) bool { return affirmativeWords[normalized] }

func isNegative(normalized string) bool {
	return negativeWords[normalized] || cancelWords[normalized]
}

func isCancel(normalized string) bool { return cancelWords[normalized] }

func isRetry(normalized string) bool { return retryWords[normalized] }

// promptFor returns the collection question for one missing parameter.
// Keys are "intent.param" with a plain param fallback.
var paramPrompts = map[string]string{
	"generate_document.content": "What should the document be about?",
	"generate_document.format":  "Which format would you like? (pdf, docx, txt, html, md)",
	"send_email.to":             "Who should receive the email?",
	"send_email.subject":        "What's the subject line?",
	"send_email.body":           "What should the email say?",
	"schedule_event.title":      "What's the event called?",
	"schedule_event.start_time": "When should it start?",
	"perform_search.query":      "What should I search for?",
	"upload_file.file_path":     "Which file should I upload?",
	"set_reminder.text":         "What should I remind you about?",
	"set_reminder.remind_at":    "When should I remind you?",
	"translate.text":            "What text should I translate?",
	"translate.target_language": "Which language should I translate into?",
}

func promptFor(intent, param string) string {
	if p, ok := paramPrompts[intent+"."+param]; ok {
		return p
	}
	return "Please provide a value for " + strings.ReplaceAll(param, "_", " ") + "."
}
