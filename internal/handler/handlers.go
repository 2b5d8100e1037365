package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Schera-ole/shapementor/internal/config"
	internalerrors "github.com/Schera-ole/shapementor/internal/errors"
	middlewareinternal "github.com/Schera-ole/shapementor/internal/middleware"
	models "github.com/Schera-ole/shapementor/internal/model"
	"github.com/Schera-ole/shapementor/internal/service"
	"github.com/Schera-ole/shapementor/internal/session"
)

// Page names shared by the profile and metrics routes.
const (
	pageProfile = "profile"
	pageMetrics = "metrics"
)

func Router(
	logger *zap.SugaredLogger,
	config *config.ServerConfig,
	userService *service.UserService,
	metricService *service.MetricsService,
	sessions *session.Manager,
) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareinternal.LoggingMiddleware(logger))
	router.Use(middlewareinternal.GzipMiddleware)
	router.Use(middleware.StripSlashes)
	router.Use(middleware.Timeout(config.RequestTimeout))
	router.Use(middleware.Recoverer)
	router.Use(sessions.Load)

	router.Get("/", IndexHandler)
	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		PingHandler(w, r, metricService, logger)
	})
	router.Get("/metrics/catalog", func(w http.ResponseWriter, r *http.Request) {
		CatalogHandler(w, r, metricService, logger)
	})

	for _, page := range []string{pageProfile, pageMetrics} {
		router.Get("/user_email/{email}/"+page, func(w http.ResponseWriter, r *http.Request) {
			ResolveEmailHandler(w, r, page, userService, logger)
		})
	}
	router.Get("/user/profile", func(w http.ResponseWriter, r *http.Request) {
		CurrentProfileHandler(w, r, userService, sessions, logger)
	})
	router.Get("/user/metrics", func(w http.ResponseWriter, r *http.Request) {
		CurrentMetricsHandler(w, r, metricService, sessions, logger)
	})

	router.Route("/users/{user_id}", func(router chi.Router) {
		for _, page := range []string{pageProfile, pageMetrics} {
			router.Get("/"+page, func(w http.ResponseWriter, r *http.Request) {
				BindUserHandler(w, r, page, userService, sessions, logger)
			})
		}
		router.Post("/profile/request_edit", func(w http.ResponseWriter, r *http.Request) {
			RequestEditProfileHandler(w, r, userService, logger)
		})
		router.Put("/profile/edit", func(w http.ResponseWriter, r *http.Request) {
			EditProfileHandler(w, r, userService, logger)
		})
		router.Post("/metrics/add", func(w http.ResponseWriter, r *http.Request) {
			AddMetricHandler(w, r, metricService, logger)
		})
		router.Post("/metrics/request_delete", func(w http.ResponseWriter, r *http.Request) {
			RequestDeleteMetricHandler(w, r, metricService, logger)
		})
		router.Delete("/metrics/delete", func(w http.ResponseWriter, r *http.Request) {
			DeleteMetricHandler(w, r, metricService, logger)
		})
	})
	return router
}

// MetricsPage is the body of GET /user/metrics.
type MetricsPage struct {
	UserID  int64                    `json:"user_id"`
	Metrics []models.MetricRecordDTO `json:"metrics"`
}

// DeleteConfirmation is the body of a successful DELETE /users/{user_id}/metrics/delete.
type DeleteConfirmation struct {
	Deleted     bool   `json:"deleted"`
	UserID      int64  `json:"user_id"`
	Timestamp   string `json:"timestamp"`
	MetricIndex string `json:"metric_index"`
}

func IndexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Hello Tracker"))
}

func PingHandler(w http.ResponseWriter, r *http.Request, metricService *service.MetricsService, logger *zap.SugaredLogger) {
	if err := metricService.Ping(r.Context()); err != nil {
		writeError(w, r, logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func CatalogHandler(w http.ResponseWriter, r *http.Request, metricService *service.MetricsService, logger *zap.SugaredLogger) {
	definitions, err := metricService.ListDefinitions(r.Context())
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, definitions)
}

// ResolveEmailHandler finds or creates the user owning the email in the path
// and redirects to that user's page.
func ResolveEmailHandler(
	w http.ResponseWriter,
	r *http.Request,
	page string,
	userService *service.UserService,
	logger *zap.SugaredLogger,
) {
	// chi matches on RawPath when the request carried escapes that Path cannot
	// represent, such as %2F; only then is the parameter still encoded.
	email := chi.URLParam(r, "email")
	if r.URL.RawPath != "" {
		decoded, err := url.PathUnescape(email)
		if err != nil {
			writeError(w, r, logger, fmt.Errorf("%w: malformed email in path", internalerrors.ErrInvalidInput))
			return
		}
		email = decoded
	}
	user, err := userService.ResolveOrCreateByEmail(r.Context(), email)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	http.Redirect(w, r, userPath(user.ID, page), http.StatusSeeOther)
}

// BindUserHandler makes the user in the path the current user of the client and
// redirects to the page that reads it from the session.
func BindUserHandler(
	w http.ResponseWriter,
	r *http.Request,
	page string,
	userService *service.UserService,
	sessions *session.Manager,
	logger *zap.SugaredLogger,
) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	if _, err := userService.GetProfile(r.Context(), userID); err != nil {
		writeError(w, r, logger, err)
		return
	}
	if err := sessions.Bind(w, userID); err != nil {
		writeError(w, r, logger, err)
		return
	}
	http.Redirect(w, r, "/user/"+page, http.StatusSeeOther)
}

func CurrentProfileHandler(
	w http.ResponseWriter,
	r *http.Request,
	userService *service.UserService,
	sessions *session.Manager,
	logger *zap.SugaredLogger,
) {
	userID, err := sessions.Current(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	user, err := userService.GetProfile(r.Context(), userID)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, user)
}

func CurrentMetricsHandler(
	w http.ResponseWriter,
	r *http.Request,
	metricService *service.MetricsService,
	sessions *session.Manager,
	logger *zap.SugaredLogger,
) {
	userID, err := sessions.Current(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	records, err := metricService.ListMetrics(r.Context(), userID)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	page := MetricsPage{UserID: userID, Metrics: make([]models.MetricRecordDTO, 0, len(records))}
	for _, record := range records {
		page.Metrics = append(page.Metrics, record.ToDTO())
	}
	writeJSON(w, logger, http.StatusOK, page)
}

// RequestEditProfileHandler applies the profile form. Empty form fields leave
// the stored value unchanged.
func RequestEditProfileHandler(w http.ResponseWriter, r *http.Request, userService *service.UserService, logger *zap.SugaredLogger) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, logger, fmt.Errorf("%w: %w", internalerrors.ErrInvalidInput, err))
		return
	}

	var patch models.UserPatch
	formValue := func(name string) *string {
		value := strings.TrimSpace(r.PostForm.Get(name))
		if value == "" {
			return nil
		}
		return &value
	}
	patch.UserName = formValue("new_user_name")
	patch.Email = formValue("new_email")
	patch.Gender = formValue("new_gender")
	patch.Race = formValue("new_race")
	patch.PhoneNumber = formValue("new_phone_number")
	if dob := formValue("new_dob"); dob != nil {
		date, err := models.ParseDate(*dob)
		if err != nil {
			writeError(w, r, logger, fmt.Errorf("%w: dob must be in %s format", internalerrors.ErrInvalidInput, models.DateLayout))
			return
		}
		patch.DOB = &date
	}

	if _, err := userService.UpdateProfile(r.Context(), userID, patch); err != nil {
		writeError(w, r, logger, err)
		return
	}
	http.Redirect(w, r, userPath(userID, pageProfile), http.StatusSeeOther)
}

// EditProfileHandler applies a JSON profile patch. Fields absent from the body
// are left unchanged; an empty string clears an optional field.
func EditProfileHandler(w http.ResponseWriter, r *http.Request, userService *service.UserService, logger *zap.SugaredLogger) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}

	var patch models.UserPatch
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&patch); err != nil {
		writeError(w, r, logger, fmt.Errorf("%w: invalid JSON format: %w", internalerrors.ErrInvalidInput, err))
		return
	}

	user, err := userService.UpdateProfile(r.Context(), userID, patch)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, user)
}

func AddMetricHandler(w http.ResponseWriter, r *http.Request, metricService *service.MetricsService, logger *zap.SugaredLogger) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, logger, fmt.Errorf("%w: %w", internalerrors.ErrInvalidInput, err))
		return
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(r.PostForm.Get("value")), 64)
	if err != nil {
		writeError(w, r, logger, fmt.Errorf("%w: value should be a number", internalerrors.ErrInvalidInput))
		return
	}
	input := service.AddMetricInput{
		UserID:      userID,
		MetricIndex: r.PostForm.Get("metric_index"),
		Value:       value,
	}
	if text := strings.TrimSpace(r.PostForm.Get("timestamp")); text != "" {
		ts, err := models.ParseTimestamp(text)
		if err != nil {
			writeError(w, r, logger, fmt.Errorf("%w: %w", internalerrors.ErrInvalidTimestamp, err))
			return
		}
		input.Timestamp = &ts
	}

	obs, err := metricService.AddMetric(r.Context(), input)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	logger.Debugw("body metric added",
		"user_id", obs.UserID,
		"metric_index", obs.MetricIndex,
		"timestamp", models.FormatTimestamp(obs.Timestamp),
	)
	http.Redirect(w, r, userPath(userID, pageMetrics), http.StatusSeeOther)
}

func RequestDeleteMetricHandler(w http.ResponseWriter, r *http.Request, metricService *service.MetricsService, logger *zap.SugaredLogger) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, logger, fmt.Errorf("%w: %w", internalerrors.ErrInvalidInput, err))
		return
	}

	err = metricService.DeleteMetric(r.Context(), userID,
		r.PostForm.Get("delete_timestamp"), r.PostForm.Get("delete_metric_index"))
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	http.Redirect(w, r, userPath(userID, pageMetrics), http.StatusSeeOther)
}

func DeleteMetricHandler(w http.ResponseWriter, r *http.Request, metricService *service.MetricsService, logger *zap.SugaredLogger) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	query := r.URL.Query()
	timestamp := query.Get("timestamp")
	index := query.Get("metric_index")

	if err := metricService.DeleteMetric(r.Context(), userID, timestamp, index); err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, DeleteConfirmation{
		Deleted:     true,
		UserID:      userID,
		Timestamp:   timestamp,
		MetricIndex: index,
	})
}

func userPath(userID int64, page string) string {
	return "/users/" + strconv.FormatInt(userID, 10) + "/" + page
}
