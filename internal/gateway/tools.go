package gateway

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// retrievalToolDef returns the knowledge_base_retrieval tool definition.
func retrievalToolDef() mcp.Tool {
	return mcp.NewTool("knowledge_base_retrieval",
		mcp.WithDescription("Search a student's indexed study material by semantic similarity. "+
			"Results are restricted to the given student's own files."),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Student whose material is searched"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language search query"),
		),
		mcp.WithString("subject",
			mcp.Description("Optional subject filter (e.g. 'Mathematics')"),
		),
		mcp.WithString("topic",
			mcp.Description("Optional topic filter within the subject"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Number of passages to return (default: 3)"),
		),
	)
}

// uploadToolDef returns the upload_student_file tool definition.
func uploadToolDef() mcp.Tool {
	return mcp.NewTool("upload_student_file",
		mcp.WithDescription("Store a study file (PDF or DOCX) and index its content for retrieval. "+
			"Returns the file ID and the number of indexed chunks."),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Student who owns the file"),
		),
		mcp.WithString("filename",
			mcp.Required(),
			mcp.Description("Original filename including extension"),
		),
		mcp.WithString("file_content_base64",
			mcp.Required(),
			mcp.Description("File content, base64-encoded"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Subject area (e.g. 'Physics')"),
		),
		mcp.WithString("topic",
			mcp.Description("Topic within the subject; derived from the filename when omitted"),
		),
		mcp.WithNumber("difficulty_level",
			mcp.Description("Difficulty rating 1-10 (default: 5)"),
		),
		mcp.WithString("description",
			mcp.Description("Optional free-text description stored with each chunk"),
		),
	)
}

// listFilesToolDef returns the list_student_files tool definition.
func listFilesToolDef() mcp.Tool {
	return mcp.NewTool("list_student_files",
		mcp.WithDescription("List a student's uploaded files with their stored metadata."),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Student whose files are listed"),
		),
		mcp.WithString("subject",
			mcp.Description("Optional subject filter"),
		),
	)
}

// previewToolDef returns the preview_file_text tool definition.
func previewToolDef() mcp.Tool {
	return mcp.NewTool("preview_file_text",
		mcp.WithDescription("Extract the text of a file without indexing it. Pass either "+
			"file_content_base64 for a new file, or user_id plus blob_path for one "+
			"already in blob storage. Useful to check extraction quality."),
		mcp.WithString("filename",
			mcp.Required(),
			mcp.Description("Filename including extension (selects the extractor)"),
		),
		mcp.WithString("file_content_base64",
			mcp.Description("File content, base64-encoded; omit when blob_path is given"),
		),
		mcp.WithString("user_id",
			mcp.Description("Student who owns the stored file; required with blob_path"),
		),
		mcp.WithString("blob_path",
			mcp.Description("Path of a stored file, as returned by list_student_files"),
		),
		mcp.WithNumber("max_chars",
			mcp.Description("Maximum characters to return (default: 500)"),
		),
	)
}
