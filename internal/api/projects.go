package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/store"
)

func (d *Dependencies) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" || len(req.Name) > 255 {
		writeError(w, http.StatusBadRequest, "name must be 1-255 characters")
		return
	}

	project, _, plainKey, err := d.Store.CreateProject(r.Context(), req.Name, req.Mode)
	if errors.Is(err, store.ErrInvalidMode) {
		writeError(w, http.StatusBadRequest, store.ErrInvalidMode.Error())
		return
	}
	if err != nil {
		d.internalError(w, "create project", err)
		return
	}

	d.Logger.Info("project created",
		zap.String("project_id", project.ID),
		zap.String("mode", project.Mode),
	)
	writeJSON(w, http.StatusCreated, CreateProjectResp{
		ID:             project.ID,
		Name:           project.Name,
		APIKey:         plainKey,
		APIKeyPrefix:   project.APIKeyPrefix,
		Mode:           project.Mode,
		FailOpen:       project.FailOpen,
		ChecksPerMonth: project.ChecksPerMonth,
		CreatedAt:      project.CreatedAt,
	})
}

func (d *Dependencies) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := d.Store.ListProjects(r.Context())
	if err != nil {
		d.internalError(w, "list projects", err)
		return
	}

	resp := make([]ProjectResp, 0, len(projects))
	for _, p := range projects {
		resp = append(resp, projectToResp(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := d.Store.GetProject(r.Context(), r.PathValue("project_id"))
	if err != nil {
		d.internalError(w, "get project", err)
		return
	}
	if project == nil {
		writeError(w, http.StatusNotFound, "Project not found.")
		return
	}
	writeJSON(w, http.StatusOK, projectToResp(project))
}

func (d *Dependencies) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req UpdateProjectReq
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Name != nil && (len(*req.Name) == 0 || len(*req.Name) > 255) {
		writeError(w, http.StatusBadRequest, "name must be 1-255 characters")
		return
	}

	params := store.UpdateProjectParams{
		Name:           req.Name,
		Mode:           req.Mode,
		FailOpen:       req.FailOpen,
		ChecksPerMonth: req.ChecksPerMonth,
	}
	if err := params.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, err := d.Store.UpdateProject(r.Context(), r.PathValue("project_id"), params)
	if err != nil {
		d.internalError(w, "update project", err)
		return
	}
	if project == nil {
		writeError(w, http.StatusNotFound, "Project not found.")
		return
	}
	writeJSON(w, http.StatusOK, projectToResp(project))
}

func (d *Dependencies) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	err := d.Store.DeleteProject(r.Context(), r.PathValue("project_id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Project not found.")
		return
	}
	if err != nil {
		d.internalError(w, "delete project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("project_id")
	project, plainKey, err := d.Store.RotateAPIKey(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Project not found.")
		return
	}
	if err != nil {
		d.internalError(w, "rotate API key", err, zap.String("project_id", id))
		return
	}
	d.Logger.Info("api key rotated", zap.String("project_id", project.ID))
	writeJSON(w, http.StatusOK, RotateKeyResp{
		APIKey:       plainKey,
		APIKeyPrefix: project.APIKeyPrefix,
	})
}

func projectToResp(p *store.Project) ProjectResp {
	return ProjectResp{
		ID:             p.ID,
		Name:           p.Name,
		APIKeyPrefix:   p.APIKeyPrefix,
		Mode:           p.Mode,
		FailOpen:       p.FailOpen,
		ChecksPerMonth: p.ChecksPerMonth,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}
