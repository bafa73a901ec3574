package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
)

func TestSubmissionResponseContract(t *testing.T) {
	schemaPath, err := filepath.Abs(filepath.Join("testdata", "submission_response.schema.json"))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + filepath.ToSlash(schemaPath))
	require.NoError(t, err)

	ta := setupGradingApp(t)
	activity := seedRepoActivity(t, ta.db, 2)

	resp, body := ta.do(t, http.MethodPost, fmt.Sprintf("/api/v2/activities/%d/submissions", activity.ID), map[string]string{"url": "https://github.com/octo/lab"}, 7, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	envelope := map[string]interface{}{"success": body.Success, "message": body.Message}
	var data interface{}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	envelope["data"] = data

	require.NoError(t, schema.Validate(envelope))
}
