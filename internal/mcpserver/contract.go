package mcpserver

// DocumentFormatContract describes the notebook document shape that
// read_notebook returns, for LLM consumers.
const DocumentFormatContract = `# Quire Document Format

read_notebook returns a JSON document:

` + "```" + `json
{
  "notebook_id": "…",
  "nodes": [
    {"id": "…", "type": "heading",   "text": "Title", "attrs": {"level": "1"}},
    {"id": "…", "type": "paragraph", "text": "Prose."},
    {"id": "…", "type": "code",      "text": "print(1)",
     "attrs": {"language": "python", "output": "1\n", "output_ok": "true"}}
  ]
}
` + "```" + `

## Rules

1. Node ` + "`" + `type` + "`" + ` is one of: paragraph, heading, code, table, divider.
2. ` + "`" + `id` + "`" + ` is the stable block id; pass it to run_cell as ` + "`" + `cell` + "`" + `.
3. Only ` + "`" + `code` + "`" + ` nodes are executable. Their ` + "`" + `output` + "`" + ` attribute holds the
   last sanitized execution result; ` + "`" + `output_ok` + "`" + ` is "false" when the result
   was degraded (escaped or truncated) or the execution failed.
4. Attribute values are always strings.
`
