package directory

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"keymesh/internal/domain"
)

// Server is the HTTP face of the key directory.
type Server struct {
	storage Storage
	logger  *logrus.Logger
}

// NewServer builds a Server over the given backend.
func NewServer(storage Storage, logger *logrus.Logger) *Server {
	return &Server{storage: storage, logger: logger}
}

// Router returns the server's route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/keys/{user}/{device:[0-9]+}", s.handlePublish).Methods(http.MethodPut)
	r.HandleFunc("/v1/keys/{user}/{device:[0-9]+}", s.handleFetch).Methods(http.MethodGet)
	r.HandleFunc("/v1/keys/{user}/{device:[0-9]+}/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/devices/{user}", s.handleListDevices).Methods(http.MethodGet)
	r.HandleFunc("/v1/devices/{user}/{device:[0-9]+}", s.handleDeleteDevice).Methods(http.MethodDelete)
	return r
}

type statusResponse struct {
	Remaining int `json:"remaining"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	user, device := routeAddress(r)
	defer r.Body.Close()

	var rec BundleRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.logger.WithError(err).WithField("user", user).Warn("bad publish body")
		http.Error(w, "invalid bundle", http.StatusBadRequest)
		return
	}
	if rec.Static.UserID != user || rec.Static.DeviceID != device {
		http.Error(w, "bundle address does not match URL", http.StatusBadRequest)
		return
	}

	if err := s.storage.PutBundle(r.Context(), user, device, rec); err != nil {
		s.logger.WithError(err).WithField("user", user).Error("store bundle")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"user":     user,
		"device":   device,
		"one_time": len(rec.OneTime),
	}).Info("bundle published")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	user, device := routeAddress(r)

	bundle, err := s.storage.TakeBundle(r.Context(), user, device)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "no bundle for device", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("user", user).Error("fetch bundle")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(bundle); err != nil {
		s.logger.WithError(err).Error("encode bundle")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	user, device := routeAddress(r)

	n, err := s.storage.CountOneTime(r.Context(), user, device)
	if err != nil {
		s.logger.WithError(err).WithField("user", user).Error("count one-time prekeys")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{Remaining: n})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]

	devices, err := s.storage.ListDevices(r.Context(), user)
	if err != nil {
		s.logger.WithError(err).WithField("user", user).Error("list devices")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(devices)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	user, device := routeAddress(r)

	if err := s.storage.DeleteDevice(r.Context(), user, device); err != nil {
		s.logger.WithError(err).WithField("user", user).Error("delete device")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	s.logger.WithFields(logrus.Fields{"user": user, "device": device}).Info("device removed")
	w.WriteHeader(http.StatusNoContent)
}

func routeAddress(r *http.Request) (string, uint32) {
	vars := mux.Vars(r)
	device, _ := strconv.ParseUint(vars["device"], 10, 32)
	return vars["user"], uint32(device)
}
