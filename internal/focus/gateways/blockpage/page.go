package blockpage

import "html/template"

var pageTemplate = template.Must(template.New("blockpage").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{if .Enabled}}{{.Site}} is blocked{{else}}{{.Site}} is unavailable{{end}}</title>
<style>
body { font-family: system-ui, sans-serif; background: #f5f5f0; color: #222; display: flex; min-height: 100vh; align-items: center; justify-content: center; margin: 0; }
main { max-width: 32rem; padding: 2rem; text-align: center; }
h1 { font-size: 1.6rem; margin-bottom: .5rem; }
.host { color: #666; font-family: monospace; }
.tip { margin-top: 2rem; padding: 1rem; background: #fff; border-radius: .5rem; }
</style>
</head>
<body>
<main>
{{if .Enabled}}
<h1>{{.Site}} is blocked right now</h1>
<p class="host">{{.Host}}</p>
<p>This site is on your focus list. It will open again when its block window ends.</p>
<p class="tip">{{.Tip}}</p>
{{else}}
<h1>Blocking is turned off</h1>
<p class="host">{{.Host}}</p>
<p>Focus blocking is disabled, so this page should not be showing. Your DNS cache may still hold an old answer; try again in a moment.</p>
{{end}}
</main>
</body>
</html>
`))

// pageData feeds pageTemplate.
type pageData struct {
	Host    string
	Site    string
	Tip     string
	Enabled bool
}

// DefaultTips rotate on the block page.
var DefaultTips = []string{
	"Write down what you were about to look up and check it during your next break.",
	"Take three slow breaths, then return to the task in front of you.",
	"Close the tabs you are not using for the task at hand.",
	"Set a timer for 25 minutes and work on one thing until it rings.",
	"Stand up, stretch, and drink some water before you switch context.",
	"If you are stuck, write the next smallest step you could take.",
}
