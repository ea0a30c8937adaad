package store

import (
	"strings"

	"github.com/Samijain03/Collab-X/pkg/models"
)

var templates = map[string]string{
	models.LangPython: `def main():
    print("Hello from {filename}!")


if __name__ == "__main__":
    main()
`,
	models.LangHTML: `<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>{filename}</title>
  </head>
  <body>
    <h1>Hello from {filename}</h1>
  </body>
</html>
`,
	models.LangJavaScript: "console.log(\"Hello from {filename}!\");\n",
	models.LangCSS:        "/* {filename} */\n",
	models.LangJSON:       "{\n  \"message\": \"Hello from {filename}!\"\n}\n",
	models.LangMarkdown:   "# {filename}\n",
}

// Template returns the starter content for a new file.
func Template(language, filename string) string {
	return strings.ReplaceAll(templates[language], "{filename}", filename)
}
