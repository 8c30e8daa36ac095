package classifier

// Intent is a closed category of user goal.
type Intent string

const (
	IntentGenerateDocument Intent = "generate_document"
	IntentSendEmail        Intent = "send_email"
	IntentScheduleEvent    Intent = "schedule_event"
	IntentPerformSearch    Intent = "perform_search"
	IntentUploadFile       Intent = "upload_file"
	IntentSetReminder      Intent = "set_reminder"
	IntentQueryWeather     Intent = "query_weather"
	IntentQueryNews        Intent = "query_news"
	IntentCalculate        Intent = "calculate"
	IntentTranslate        Intent = "translate"
	IntentGeneral          Intent = "general"
	IntentUnknown          Intent = "unknown"
)

// preferredTools maps each intent to its static tool backend identifier.
var preferredTools = map[Intent]string{
	IntentGenerateDocument: "document_generator",
	IntentSendEmail:        "email_sender",
	IntentScheduleEvent:    "calendar_scheduler",
	IntentPerformSearch:    "web_search",
	IntentUploadFile:       "file_uploader",
	IntentSetReminder:      "reminder_service",
	IntentQueryWeather:     "weather_service",
	IntentQueryNews:        "news_service",
	IntentCalculate:        "calculator_service",
	IntentTranslate:        "translator_service",
	IntentGeneral:          "smalltalk",
}

// PreferredTool returns the static tool backend id for an intent, or "" for unknown.
func PreferredTool(intent Intent) string {
	return preferredTools[intent]
}
