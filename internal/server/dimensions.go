package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/merchant-metrics/internal/model"
)

type productBody struct {
	CanonicalName string `json:"canonical_name"`
	Category      string `json:"category"`
	ProductType   string `json:"product_type"`
}

func (b *productBody) normalize(w http.ResponseWriter) bool {
	b.CanonicalName = strings.TrimSpace(b.CanonicalName)
	b.Category = strings.TrimSpace(b.Category)
	b.ProductType = strings.TrimSpace(b.ProductType)
	if b.CanonicalName == "" || b.Category == "" || b.ProductType == "" {
		respondDetail(w, http.StatusUnprocessableEntity, "Заполните все поля продукта.")
		return false
	}
	return true
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	products, err := s.store.ListProducts(r.Context(), project.ID)
	if err != nil {
		respondInternal(w, err)
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	respondJSON(w, http.StatusOK, products)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	var body productBody
	if !decodeBody(w, r, &body) {
		return
	}
	if !body.normalize(w) {
		return
	}
	product, err := s.store.CreateProduct(r.Context(), project.ID, body.CanonicalName, body.Category, body.ProductType)
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, product)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	var body productBody
	if !decodeBody(w, r, &body) {
		return
	}
	if !body.normalize(w) {
		return
	}
	product, err := s.store.UpdateProduct(r.Context(), project.ID, chi.URLParam(r, "productID"), body.CanonicalName, body.Category, body.ProductType)
	if err != nil {
		respondInternal(w, err)
		return
	}
	if product == nil {
		respondDetail(w, http.StatusNotFound, "Продукт не найден.")
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (s *Server) handleAddProductAlias(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	product, err := s.store.GetProduct(r.Context(), project.ID, chi.URLParam(r, "productID"))
	if err != nil {
		respondInternal(w, err)
		return
	}
	if product == nil {
		respondDetail(w, http.StatusNotFound, "Продукт не найден.")
		return
	}
	var body struct {
		Alias string `json:"alias"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	alias := strings.TrimSpace(body.Alias)
	if alias == "" {
		respondDetail(w, http.StatusBadRequest, "Алиас не может быть пустым.")
		return
	}
	created, err := s.store.AddProductAlias(r.Context(), project.ID, product.ID, product.CanonicalName, alias)
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListManagers(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	managers, err := s.store.ListManagers(r.Context(), project.ID)
	if err != nil {
		respondInternal(w, err)
		return
	}
	if managers == nil {
		managers = []model.Manager{}
	}
	respondJSON(w, http.StatusOK, managers)
}

func (s *Server) handleCreateManager(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	var body struct {
		CanonicalName string `json:"canonical_name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	name := strings.TrimSpace(body.CanonicalName)
	if name == "" {
		respondDetail(w, http.StatusUnprocessableEntity, "Укажите имя менеджера.")
		return
	}
	manager, err := s.store.CreateManager(r.Context(), project.ID, name)
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, manager)
}

func (s *Server) handleUpdateManager(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	var body struct {
		CanonicalName string `json:"canonical_name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	name := strings.TrimSpace(body.CanonicalName)
	if name == "" {
		respondDetail(w, http.StatusUnprocessableEntity, "Укажите имя менеджера.")
		return
	}
	manager, err := s.store.UpdateManager(r.Context(), project.ID, chi.URLParam(r, "managerID"), name)
	if err != nil {
		respondInternal(w, err)
		return
	}
	if manager == nil {
		respondDetail(w, http.StatusNotFound, "Менеджер не найден.")
		return
	}
	respondJSON(w, http.StatusOK, manager)
}

func (s *Server) handleAddManagerAlias(w http.ResponseWriter, r *http.Request) {
	project, ok := s.project(w, r)
	if !ok {
		return
	}
	manager, err := s.store.GetManager(r.Context(), project.ID, chi.URLParam(r, "managerID"))
	if err != nil {
		respondInternal(w, err)
		return
	}
	if manager == nil {
		respondDetail(w, http.StatusNotFound, "Менеджер не найден.")
		return
	}
	var body struct {
		Alias string `json:"alias"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	alias := strings.TrimSpace(body.Alias)
	if alias == "" {
		respondDetail(w, http.StatusBadRequest, "Алиас не может быть пустым.")
		return
	}
	created, err := s.store.AddManagerAlias(r.Context(), project.ID, manager.ID, manager.CanonicalName, alias)
	if err != nil {
		respondInternal(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}
