package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	ierr "billbook-backend/internal/errors"
	"billbook-backend/internal/models"
	"billbook-backend/internal/services"
	"billbook-backend/internal/storage"
	"billbook-backend/pkg/utils"

	"github.com/gorilla/mux"
)

type BillHandler struct {
	Service *services.BillingService
	PDF     *services.BillPDFService
}

func NewBillHandler(service *services.BillingService, pdf *services.BillPDFService) *BillHandler {
	return &BillHandler{Service: service, PDF: pdf}
}

// messageResponse carries the text shown to the user next to the payload.
type messageResponse struct {
	Message string              `json:"message"`
	Draft   *services.DraftView `json:"draft,omitempty"`
	Bill    *models.BillRecord  `json:"bill,omitempty"`
}

type statusResponse struct {
	storage.Status
	BillCount int `json:"billCount"`
}

// GetStatus reports whether bills go to the database or to local storage,
// with the size of the last loaded bill list.
func (h *BillHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	utils.JSON(w, http.StatusOK, statusResponse{
		Status:    h.Service.Status(),
		BillCount: len(h.Service.CachedBills()),
	})
}

func (h *BillHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	st := h.Service.Reconnect(r.Context())
	utils.JSON(w, http.StatusOK, statusResponse{Status: st, BillCount: len(h.Service.CachedBills())})
}

// SyncOffline pushes bills saved while offline to the remote backend.
func (h *BillHandler) SyncOffline(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.SyncOffline(r.Context())
	if err != nil {
		utils.Error(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, res)
}

// ListBills returns every bill, or one customer's bills when ?customer= is
// set. The list is never null.
func (h *BillHandler) ListBills(w http.ResponseWriter, r *http.Request) {
	var bills []models.BillRecord
	if customer := r.URL.Query().Get("customer"); customer != "" {
		bills = h.Service.BillsByCustomer(r.Context(), customer)
	} else {
		bills = h.Service.Bills(r.Context())
	}
	if bills == nil {
		bills = []models.BillRecord{}
	}
	utils.JSON(w, http.StatusOK, bills)
}

func (h *BillHandler) NextNumber(w http.ResponseWriter, r *http.Request) {
	utils.JSON(w, http.StatusOK, map[string]string{"sNo": h.Service.NextNumber(r.Context())})
}

func (h *BillHandler) DeleteBill(w http.ResponseWriter, r *http.Request) {
	sNo := mux.Vars(r)["sNo"]
	if err := h.Service.DeleteBill(r.Context(), sNo); err != nil {
		utils.Error(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Bill %s deleted.", sNo)})
}

// LoadBill opens a stored bill as the draft.
func (h *BillHandler) LoadBill(w http.ResponseWriter, r *http.Request) {
	sNo := mux.Vars(r)["sNo"]
	view, err := h.Service.LoadBill(r.Context(), sNo)
	if err != nil {
		utils.Error(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Bill %s loaded.", sNo), Draft: &view})
}

// RenderPDF renders the posted bill without storing it.
func (h *BillHandler) RenderPDF(w http.ResponseWriter, r *http.Request) {
	var bill models.BillRecord
	if err := json.NewDecoder(r.Body).Decode(&bill); err != nil {
		utils.BadRequest(w, "Invalid request body")
		return
	}
	h.writePDF(w, bill)
}

func (h *BillHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	utils.JSON(w, http.StatusOK, h.Service.Draft())
}

func (h *BillHandler) NewDraft(w http.ResponseWriter, r *http.Request) {
	view := h.Service.NewBill(r.Context())
	utils.JSON(w, http.StatusOK, messageResponse{Message: "New bill created.", Draft: &view})
}

func (h *BillHandler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	var patch services.DraftPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		utils.BadRequest(w, "Invalid request body")
		return
	}
	view, err := h.Service.UpdateDraft(patch)
	if err != nil {
		utils.Error(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, view)
}

// SetCustomer changes the customer name and may auto-fill oldBalance.
func (h *BillHandler) SetCustomer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerName string `json:"customerName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "Invalid request body")
		return
	}
	update, err := h.Service.SetCustomerName(r.Context(), req.CustomerName)
	if err != nil {
		utils.Error(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, update)
}

func (h *BillHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	item, view := h.Service.AddItem()
	utils.JSON(w, http.StatusCreated, map[string]interface{}{"item": item, "draft": view})
}

func (h *BillHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var patch services.ItemPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		utils.BadRequest(w, "Invalid request body")
		return
	}
	view, err := h.Service.UpdateItem(mux.Vars(r)["id"], patch)
	if err != nil {
		utils.Error(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, view)
}

func (h *BillHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.RemoveItem(mux.Vars(r)["id"])
	if err != nil {
		utils.Error(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, view)
}

// SaveDraft stores the draft. Failures are reported as "Error saving bill."
// with the underlying cause alongside.
func (h *BillHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	saved, err := h.Service.SaveDraft(r.Context())
	if err != nil {
		utils.JSON(w, ierr.HTTPStatus(err), map[string]string{
			"error":  "Error saving bill.",
			"detail": err.Error(),
		})
		return
	}
	utils.JSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Bill %s saved!", saved.SNo), Bill: saved})
}

func (h *BillHandler) DraftPDF(w http.ResponseWriter, r *http.Request) {
	h.writePDF(w, h.Service.Draft().Bill)
}

func (h *BillHandler) writePDF(w http.ResponseWriter, bill models.BillRecord) {
	data, err := h.PDF.Render(bill)
	if err != nil {
		utils.Error(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, services.FileName(bill)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
