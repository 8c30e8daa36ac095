package tools

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"

	"voicecore/pkg"
)

// Built-in demo backends. Real deployments replace these with executors
// talking to actual document/email/calendar services; the core only relies
// on the envelope contract.

type documentArgs struct {
	Content string `json:"content" jsonschema:"description=topic or body of the document"`
	Format  string `json:"format" jsonschema:"description=output format such as pdf or docx"`
}

func documentTool() tool.InvokableTool {
	t, _ := utils.InferTool("document_generator", "Generate a document with the given content and format",
		func(ctx context.Context, args documentArgs) (string, error) {
			if args.Format == "" {
				args.Format = "pdf"
			}
			return fmt.Sprintf("Generated a %s document about %q.", strings.ToUpper(args.Format), args.Content), nil
		})
	return t
}

type emailArgs struct {
	To      string `json:"to" jsonschema:"description=recipient email address"`
	Subject string `json:"subject" jsonschema:"description=email subject line"`
	Body    string `json:"body" jsonschema:"description=email body text"`
}

func emailTool() tool.InvokableTool {
	t, _ := utils.InferTool("email_sender", "Send an email to a recipient",
		func(ctx context.Context, args emailArgs) (string, error) {
			if !strings.Contains(args.To, "@") {
				return "", fmt.Errorf("invalid recipient address: %s", args.To)
			}
			return fmt.Sprintf("Email %q sent to %s.", args.Subject, args.To), nil
		})
	return t
}

type eventArgs struct {
	Title     string `json:"title" jsonschema:"description=event title"`
	StartTime string `json:"start_time" jsonschema:"description=event start time"`
}

func calendarTool() tool.InvokableTool {
	t, _ := utils.InferTool("calendar_scheduler", "Schedule a calendar event",
		func(ctx context.Context, args eventArgs) (string, error) {
			return fmt.Sprintf("Scheduled %q for %s.", args.Title, args.StartTime), nil
		})
	return t
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"description=search query"`
}

func searchTool() tool.InvokableTool {
	t, _ := utils.InferTool("web_search", "Search the web for a query",
		func(ctx context.Context, args searchArgs) (string, error) {
			return fmt.Sprintf("Top results for %q: (demo results)", args.Query), nil
		})
	return t
}

type uploadArgs struct {
	FilePath string `json:"file_path" jsonschema:"description=path or name of the file to upload"`
}

func uploadTool() tool.InvokableTool {
	t, _ := utils.InferTool("file_uploader", "Upload a file to storage",
		func(ctx context.Context, args uploadArgs) (string, error) {
			return fmt.Sprintf("Uploaded %s.", args.FilePath), nil
		})
	return t
}

type reminderArgs struct {
	Text     string `json:"text" jsonschema:"description=what to be reminded about"`
	RemindAt string `json:"remind_at" jsonschema:"description=when to fire the reminder"`
}

func reminderTool() tool.InvokableTool {
	t, _ := utils.InferTool("reminder_service", "Set a reminder",
		func(ctx context.Context, args reminderArgs) (string, error) {
			return fmt.Sprintf("Reminder set: %s (%s).", args.Text, args.RemindAt), nil
		})
	return t
}

type weatherArgs struct {
	Location string `json:"location" jsonschema:"description=location to report weather for"`
}

func weatherTool() tool.InvokableTool {
	t, _ := utils.InferTool("weather_service", "Report the weather for a location",
		func(ctx context.Context, args weatherArgs) (string, error) {
			loc := args.Location
			if loc == "" {
				loc = "your location"
			}
			return fmt.Sprintf("Weather for %s: 22°C, partly cloudy. (demo data)", loc), nil
		})
	return t
}

type newsArgs struct {
	Topic string `json:"topic" jsonschema:"description=news topic filter"`
}

func newsTool() tool.InvokableTool {
	t, _ := utils.InferTool("news_service", "Fetch news headlines",
		func(ctx context.Context, args newsArgs) (string, error) {
			if args.Topic == "" {
				return "Today's headlines: (demo headlines)", nil
			}
			return fmt.Sprintf("Headlines about %s: (demo headlines)", args.Topic), nil
		})
	return t
}

type calcArgs struct {
	Expression string `json:"expression" jsonschema:"description=arithmetic expression to evaluate"`
}

var (
	binaryExpr  = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)\s*([-+*/x])\s*(-?\d+(?:\.\d+)?)$`)
	percentExpr = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*%\s*of\s*(\d+(?:\.\d+)?)$`)
)

func calculatorTool() tool.InvokableTool {
	t, _ := utils.InferTool("calculator_service", "Evaluate a simple arithmetic expression",
		func(ctx context.Context, args calcArgs) (string, error) {
			result, err := evalExpression(args.Expression)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s = %s", args.Expression, strconv.FormatFloat(result, 'f', -1, 64)), nil
		})
	return t
}

func evalExpression(expr string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(expr))
	s = strings.NewReplacer("plus", "+", "minus", "-", "times", "*", "divided by", "/").Replace(s)
	s = strings.Join(strings.Fields(s), " ")

	if m := percentExpr.FindStringSubmatch(s); m != nil {
		p, _ := strconv.ParseFloat(m[1], 64)
		n, _ := strconv.ParseFloat(m[2], 64)
		return p / 100 * n, nil
	}

	m := binaryExpr.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("cannot evaluate expression: %s", expr)
	}
	a, _ := strconv.ParseFloat(m[1], 64)
	b, _ := strconv.ParseFloat(m[3], 64)
	switch m[2] {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*", "x":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	}
	return 0, fmt.Errorf("unsupported operator: %s", m[2])
}

type translateArgs struct {
	Text           string `json:"text" jsonschema:"description=text to translate"`
	TargetLanguage string `json:"target_language" jsonschema:"description=language to translate into"`
}

func translatorTool() tool.InvokableTool {
	t, _ := utils.InferTool("translator_service", "Translate text into a target language",
		func(ctx context.Context, args translateArgs) (string, error) {
			return fmt.Sprintf("Translation of %q into %s: (demo translation)", args.Text, args.TargetLanguage), nil
		})
	return t
}

type smalltalkArgs struct {
	Utterance string `json:"utterance" jsonschema:"description=the user's small talk"`
}

func smalltalkTool() tool.InvokableTool {
	t, _ := utils.InferTool("smalltalk", "Respond to greetings and small talk",
		func(ctx context.Context, args smalltalkArgs) (string, error) {
			return "Hi! Tell me what you'd like to do, for example: create a document, send an email or schedule a meeting.", nil
		})
	return t
}

// NewBuiltinRegistry returns a registry populated with the demo backends
// and their reversal handlers.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()

	r.Register("document_generator", WrapEinoTool(documentTool()))
	r.RegisterUndo("document_generator", func(ctx context.Context, req *pkg.ToolRequest) (*pkg.ToolResult, error) {
		content := req.Parameters["content"].AsString()
		return &pkg.ToolResult{
			Success: true,
			Message: fmt.Sprintf("Removed the generated document about %q.", content),
		}, nil
	})

	r.Register("email_sender", WrapEinoTool(emailTool()))
	// No reversal: a sent email cannot be recalled.

	r.Register("calendar_scheduler", WrapEinoTool(calendarTool()))
	r.RegisterUndo("calendar_scheduler", func(ctx context.Context, req *pkg.ToolRequest) (*pkg.ToolResult, error) {
		return &pkg.ToolResult{
			Success: true,
			Message: fmt.Sprintf("Cancelled the event %q.", req.Parameters["title"].AsString()),
		}, nil
	})

	r.Register("web_search", WrapEinoTool(searchTool()))

	r.Register("file_uploader", WrapEinoTool(uploadTool()))
	r.RegisterUndo("file_uploader", func(ctx context.Context, req *pkg.ToolRequest) (*pkg.ToolResult, error) {
		return &pkg.ToolResult{
			Success: true,
			Message: fmt.Sprintf("Deleted the uploaded file %s.", req.Parameters["file_path"].AsString()),
		}, nil
	})

	r.Register("reminder_service", WrapEinoTool(reminderTool()))
	r.RegisterUndo("reminder_service", func(ctx context.Context, req *pkg.ToolRequest) (*pkg.ToolResult, error) {
		return &pkg.ToolResult{
			Success: true,
			Message: fmt.Sprintf("Cleared the reminder: %s.", req.Parameters["text"].AsString()),
		}, nil
	})

	r.Register("weather_service", WrapEinoTool(weatherTool()))
	r.Register("news_service", WrapEinoTool(newsTool()))
	r.Register("calculator_service", WrapEinoTool(calculatorTool()))
	r.Register("translator_service", WrapEinoTool(translatorTool()))
	r.Register("smalltalk", WrapEinoTool(smalltalkTool()))

	return r
}
