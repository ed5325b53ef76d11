package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/pagination"
)

func testCodebase() *domain.Codebase {
	return &domain.Codebase{ID: "cb-1", Name: "shop", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestCodebaseHandler_Create_Success(t *testing.T) {
	mockSvc := new(MockCodebaseService)
	handler := NewCodebaseHandler(mockSvc, nil)
	mockSvc.On("Create", mock.Anything, "shop").Return(testCodebase(), nil)

	w := httptest.NewRecorder()
	handler.Create(w, newRequest(http.MethodPost, "/codebases", `{"name":"shop"}`))

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "cb-1", data["id"])
	mockSvc.AssertExpectations(t)
}

func TestCodebaseHandler_Create_InvalidBody(t *testing.T) {
	handler := NewCodebaseHandler(new(MockCodebaseService), nil)

	w := httptest.NewRecorder()
	handler.Create(w, newRequest(http.MethodPost, "/codebases", `{`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	handler.Create(w, newRequest(http.MethodPost, "/codebases", `{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "name is required")
}

func TestCodebaseHandler_Create_Duplicate(t *testing.T) {
	mockSvc := new(MockCodebaseService)
	handler := NewCodebaseHandler(mockSvc, nil)
	mockSvc.On("Create", mock.Anything, "shop").Return(nil, domain.ErrCodebaseAlreadyExists)

	w := httptest.NewRecorder()
	handler.Create(w, newRequest(http.MethodPost, "/codebases", `{"name":"shop"}`))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCodebaseHandler_Get_NotFound(t *testing.T) {
	mockSvc := new(MockCodebaseService)
	handler := NewCodebaseHandler(mockSvc, nil)
	mockSvc.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrCodebaseNotFound)

	w := httptest.NewRecorder()
	handler.Get(w, withURLParam(newRequest(http.MethodGet, "/codebases/missing", ""), "id", "missing"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestCodebaseHandler_List(t *testing.T) {
	mockSvc := new(MockCodebaseService)
	handler := NewCodebaseHandler(mockSvc, nil)
	page := &pagination.PageResult[*domain.Codebase]{Items: []*domain.Codebase{testCodebase()}, Cursor: "next", HasMore: true}
	mockSvc.On("List", mock.Anything, "abc", 5).Return(page, nil)

	w := httptest.NewRecorder()
	handler.List(w, newRequest(http.MethodGet, "/codebases?cursor=abc&limit=5", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Len(t, data["items"], 1)
	assert.Equal(t, "next", data["cursor"])
	assert.Equal(t, true, data["has_more"])
	mockSvc.AssertExpectations(t)
}

func TestCodebaseHandler_List_DefaultsAndBadLimit(t *testing.T) {
	mockSvc := new(MockCodebaseService)
	handler := NewCodebaseHandler(mockSvc, nil)
	mockSvc.On("List", mock.Anything, "", defaultListLimit).Return(&pagination.PageResult[*domain.Codebase]{}, nil)

	w := httptest.NewRecorder()
	handler.List(w, newRequest(http.MethodGet, "/codebases", ""))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items":[]`)

	w = httptest.NewRecorder()
	handler.List(w, newRequest(http.MethodGet, "/codebases?limit=-1", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockSvc.AssertNumberOfCalls(t, "List", 1)
}

func TestCodebaseHandler_Delete(t *testing.T) {
	mockSvc := new(MockCodebaseService)
	handler := NewCodebaseHandler(mockSvc, nil)
	mockSvc.On("Delete", mock.Anything, "cb-1").Return(nil)

	w := httptest.NewRecorder()
	handler.Delete(w, withURLParam(newRequest(http.MethodDelete, "/codebases/cb-1", ""), "id", "cb-1"))

	assert.Equal(t, http.StatusNoContent, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestCodebaseHandler_UploadFiles(t *testing.T) {
	mockFiles := new(MockFileService)
	handler := NewCodebaseHandler(new(MockCodebaseService), mockFiles)
	saved := []*domain.CodebaseFile{domain.NewCodebaseFile("cb-1", "src/app.js", "let a = 1\n", "javascript")}
	mockFiles.On("SaveFiles", mock.Anything, "cb-1", mock.MatchedBy(func(files []*domain.CodebaseFile) bool {
		return len(files) == 1 && files[0].Path == "src/app.js" && files[0].Language == ""
	})).Return(saved, nil)

	body := `{"files":[{"path":"src/app.js","content":"let a = 1\n"}]}`
	w := httptest.NewRecorder()
	handler.UploadFiles(w, withURLParam(newRequest(http.MethodPut, "/codebases/cb-1/files", body), "id", "cb-1"))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	files := data["files"].([]interface{})
	assert.Len(t, files, 1)
	assert.Equal(t, "javascript", files[0].(map[string]interface{})["language"])
	mockFiles.AssertExpectations(t)
}

func TestCodebaseHandler_UploadFiles_Errors(t *testing.T) {
	mockFiles := new(MockFileService)
	handler := NewCodebaseHandler(new(MockCodebaseService), mockFiles)
	mockFiles.On("SaveFiles", mock.Anything, "cb-1", mock.Anything).Return(nil, domain.ErrInvalidFilePath)

	w := httptest.NewRecorder()
	handler.UploadFiles(w, withURLParam(newRequest(http.MethodPut, "/codebases/cb-1/files", `{"files":[]}`), "id", "cb-1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "files are required")

	w = httptest.NewRecorder()
	body := `{"files":[{"path":"/etc/passwd","content":"x"}]}`
	handler.UploadFiles(w, withURLParam(newRequest(http.MethodPut, "/codebases/cb-1/files", body), "id", "cb-1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid file path")
}
