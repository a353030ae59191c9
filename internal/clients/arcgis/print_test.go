package arcgis

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testTaskURL = "https://maps.example.com/arcgis/rest/services/Utilities/PrintingTools/GPServer/Export%20Web%20Map%20Task"

func TestPrintClient_Submit(t *testing.T) {
	fixture := loadTestFixture(t, "print_execute_result.json")
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.Method == "POST"
	})).Return(createMockResponse(200, "application/json", fixture), nil)

	client := NewPrintClientWithHTTPDoer(testTaskURL, mockHTTP)

	resultURL, err := client.Submit(context.Background(),
		`{"mapOptions":{}}`, "PNG32", "Letter ANSI A Landscape")
	require.NoError(t, err)
	assert.Contains(t, resultURL, "site_map.png", "Result URL should come from the Output_File param")
}

func TestPrintClient_Submit_ServiceError(t *testing.T) {
	fixture := loadTestFixture(t, "print_error_result.json")
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, "application/json", fixture), nil)

	client := NewPrintClientWithHTTPDoer(testTaskURL, mockHTTP)

	_, err := client.Submit(context.Background(), "{}", "PNG32", "BadTemplate")
	require.Error(t, err)

	var dispatchErr *ExportDispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, "print", dispatchErr.Leg)
	assert.Contains(t, dispatchErr.Payload, "Unable to complete operation")
}

func TestPrintClient_Submit_MissingResultURL(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, "application/json", `{"results": []}`), nil)

	client := NewPrintClientWithHTTPDoer(testTaskURL, mockHTTP)

	_, err := client.Submit(context.Background(), "{}", "PNG32", "Letter ANSI A Landscape")
	require.Error(t, err)

	var resultErr *ExportResultError
	assert.ErrorAs(t, err, &resultErr, "Missing result URL should be an ExportResultError")
}

func TestPrintClient_Submit_TopLevelURLShape(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, "application/json",
			`{"url": "https://maps.example.com/out/map.pdf"}`), nil)

	client := NewPrintClientWithHTTPDoer(testTaskURL, mockHTTP)

	resultURL, err := client.Submit(context.Background(), "{}", "PDF", "Letter ANSI A Landscape")
	require.NoError(t, err)
	assert.Equal(t, "https://maps.example.com/out/map.pdf", resultURL)
}

func TestPrintClient_FetchArtifact(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, "image/png", "\x89PNG fake image bytes"), nil)

	client := NewPrintClientWithHTTPDoer(testTaskURL, mockHTTP)

	data, err := client.FetchArtifact(context.Background(), "https://maps.example.com/out/map.png")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestPrintClient_FetchArtifact_HTTPError(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(404, "text/html", "not found"), nil)

	client := NewPrintClientWithHTTPDoer(testTaskURL, mockHTTP)

	_, err := client.FetchArtifact(context.Background(), "https://maps.example.com/out/missing.png")
	require.Error(t, err)

	var resultErr *ExportResultError
	assert.ErrorAs(t, err, &resultErr)
}
