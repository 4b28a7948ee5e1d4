package handler_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appmarket/internal/auth"
	"appmarket/internal/bus/bustest"
	"appmarket/internal/domain"
	"appmarket/internal/handler"
	"appmarket/internal/repository/repotest"
	"appmarket/internal/service"
	"appmarket/internal/storage"
	"appmarket/internal/storage/storagetest"
)

const secret = "test-secret"

var apkData = []byte("PK\x03\x04 chess package body")

type env struct {
	store   *repotest.Store
	objects *storagetest.Memory
	bus     *bustest.Recorder
	server  *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:   repotest.New(),
		objects: storagetest.New(),
		bus:     &bustest.Recorder{},
	}

	aggregator := service.NewStatusAggregator()
	mover := storage.NewMover(e.objects, 2, time.Millisecond)
	publication := service.NewPublicationService(e.store, mover, e.bus, aggregator)

	router := handler.NewRouter(handler.Handlers{
		Submissions: handler.NewSubmissionHandler(service.NewSubmissionService(e.store, e.objects, e.bus)),
		Apps:        handler.NewAppHandler(service.NewCatalogService(e.store, aggregator)),
		Admin: handler.NewAdminHandler(publication,
			service.NewReconcileService(e.store, e.objects, mover, publication)),
	}, auth.NewVerifier(secret), 5*time.Second)

	e.server = httptest.NewServer(router)
	t.Cleanup(e.server.Close)
	return e
}

func token(t *testing.T, userID uuid.UUID, role auth.Role) string {
	t.Helper()
	claims := auth.Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (e *env) do(t *testing.T, method, path, bearer string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(method, e.server.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func (e *env) stage(developerID uuid.UUID) map[string]interface{} {
	submissionID := uuid.New()
	e.store.SeedDeveloper(developerID)
	e.objects.Seed(domain.ZoneQuarantine, domain.StagingKey(submissionID, "chess.apk"), apkData, nil)
	return map[string]interface{}{
		"submission_id": submissionID,
		"name":          "Chess Master",
		"category":      "games",
		"platform":      "android",
		"price":         4.99,
		"version":       "1.0.0",
		"main_file": map[string]interface{}{
			"name":     "chess.apk",
			"checksum": sum(apkData),
			"size":     len(apkData),
		},
	}
}

func TestRouter_Health(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmissionHandler_Finalize(t *testing.T) {
	dev := uuid.New()

	t.Run("Без токена", func(t *testing.T) {
		e := newEnv(t)
		resp, _ := e.do(t, http.MethodPost, "/v1/submissions", "", e.stage(dev))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Администратор не отправляет приложения", func(t *testing.T) {
		e := newEnv(t)
		resp, _ := e.do(t, http.MethodPost, "/v1/submissions", token(t, dev, auth.RoleAdmin), e.stage(dev))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("Создание и повтор", func(t *testing.T) {
		e := newEnv(t)
		req := e.stage(dev)
		bearer := token(t, dev, auth.RoleDeveloper)

		resp, body := e.do(t, http.MethodPost, "/v1/submissions", bearer, req)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		appID, err := uuid.Parse(body["app_id"].(string))
		require.NoError(t, err)
		assert.Equal(t, dev, e.store.App(appID).DeveloperID, "developer comes from the token")
		assert.Equal(t, false, body["resubmitted"])

		resp, body = e.do(t, http.MethodPost, "/v1/submissions", bearer, req)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["resubmitted"])
		assert.Len(t, e.store.Apps(), 1)
	})

	t.Run("Шина недоступна", func(t *testing.T) {
		e := newEnv(t)
		e.bus.Err = errors.New("redis unavailable")

		resp, body := e.do(t, http.MethodPost, "/v1/submissions", token(t, dev, auth.RoleDeveloper), e.stage(dev))
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("Retry-After"))
		result, ok := body["result"].(map[string]interface{})
		require.True(t, ok, "committed ids are returned for the retry")
		assert.NotEmpty(t, result["version_id"])
	})

	t.Run("Некорректное тело", func(t *testing.T) {
		e := newEnv(t)
		resp, _ := e.do(t, http.MethodPost, "/v1/submissions", token(t, dev, auth.RoleDeveloper), "{not json")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Неизвестный разработчик", func(t *testing.T) {
		e := newEnv(t)
		req := e.stage(dev)
		stranger := uuid.New()

		resp, _ := e.do(t, http.MethodPost, "/v1/submissions", token(t, stranger, auth.RoleDeveloper), req)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Объект не загружен", func(t *testing.T) {
		e := newEnv(t)
		req := e.stage(dev)
		req["submission_id"] = uuid.New()

		resp, _ := e.do(t, http.MethodPost, "/v1/submissions", token(t, dev, auth.RoleDeveloper), req)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestAppHandler(t *testing.T) {
	e := newEnv(t)
	owner, stranger, admin := uuid.New(), uuid.New(), uuid.New()
	app := e.store.SeedApp(domain.App{DeveloperID: owner, Name: "Chess Master", Price: 4.99})
	e.store.SeedVersion(app.ID, "1.0.0", domain.VersionPublished, "k")

	t.Run("Список версий владельцу", func(t *testing.T) {
		resp, body := e.do(t, http.MethodGet, "/v1/apps/"+app.ID.String()+"/versions", token(t, owner, auth.RoleDeveloper), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body["versions"], 1)
	})

	t.Run("Список версий администратору", func(t *testing.T) {
		resp, _ := e.do(t, http.MethodGet, "/v1/apps/"+app.ID.String()+"/versions", token(t, admin, auth.RoleAdmin), nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Чужое приложение", func(t *testing.T) {
		resp, _ := e.do(t, http.MethodGet, "/v1/apps/"+app.ID.String()+"/versions", token(t, stranger, auth.RoleDeveloper), nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("Неверный идентификатор", func(t *testing.T) {
		resp, _ := e.do(t, http.MethodGet, "/v1/apps/not-a-uuid/versions", token(t, owner, auth.RoleDeveloper), nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Нулевая цена снимает с витрины", func(t *testing.T) {
		resp, body := e.do(t, http.MethodPut, "/v1/apps/"+app.ID.String()+"/price", token(t, owner, auth.RoleDeveloper),
			map[string]interface{}{"price": 0})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(domain.AppStatusDelisted), body["app_status"])
	})

	t.Run("Цена не указана", func(t *testing.T) {
		resp, _ := e.do(t, http.MethodPut, "/v1/apps/"+app.ID.String()+"/price", token(t, owner, auth.RoleDeveloper),
			map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Отрицательная цена", func(t *testing.T) {
		resp, _ := e.do(t, http.MethodPut, "/v1/apps/"+app.ID.String()+"/price", token(t, owner, auth.RoleDeveloper),
			map[string]interface{}{"price": -1})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Цена чужого приложения", func(t *testing.T) {
		resp, _ := e.do(t, http.MethodPut, "/v1/apps/"+app.ID.String()+"/price", token(t, stranger, auth.RoleDeveloper),
			map[string]interface{}{"price": 1})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("Приложение не найдено", func(t *testing.T) {
		resp, _ := e.do(t, http.MethodPut, "/v1/apps/"+uuid.NewString()+"/price", token(t, owner, auth.RoleDeveloper),
			map[string]interface{}{"price": 1})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAdminHandler(t *testing.T) {
	admin := uuid.New()

	seed := func(e *env) (domain.App, domain.AppVersion) {
		app := e.store.SeedApp(domain.App{DeveloperID: uuid.New(), Name: "Chess Master", Price: 4.99})
		key := domain.PublishedKey(app.DeveloperID, app.Name, "1.0.0", "chess.apk")
		e.objects.Seed(domain.ZoneValidated, key, apkData, nil)
		return app, e.store.SeedVersion(app.ID, "1.0.0", domain.VersionPendingApproval, key)
	}
	path := func(app domain.App, v domain.AppVersion, cmd string) string {
		return "/v1/apps/" + app.ID.String() + "/versions/" + v.ID.String() + "/" + cmd
	}

	t.Run("Разработчику запрещено", func(t *testing.T) {
		e := newEnv(t)
		app, v := seed(e)
		resp, _ := e.do(t, http.MethodPost, path(app, v, "approve"), token(t, app.DeveloperID, auth.RoleDeveloper), nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, domain.VersionPendingApproval, e.store.Version(v.ID).Status)
	})

	t.Run("Одобрение и снятие", func(t *testing.T) {
		e := newEnv(t)
		app, v := seed(e)
		bearer := token(t, admin, auth.RoleAdmin)

		resp, body := e.do(t, http.MethodPost, path(app, v, "approve"), bearer, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(domain.AppStatusActive), body["app_status"])

		resp, _ = e.do(t, http.MethodPost, path(app, v, "approve"), bearer, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, "already published")

		resp, body = e.do(t, http.MethodPost, path(app, v, "unpublish"), bearer, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(domain.AppStatusDelisted), body["app_status"])
	})

	t.Run("Перемещение не удалось", func(t *testing.T) {
		e := newEnv(t)
		app, v := seed(e)
		e.objects.CopyErr = errors.New("storage unavailable")

		resp, body := e.do(t, http.MethodPost, path(app, v, "approve"), token(t, admin, auth.RoleAdmin), nil)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		result, ok := body["result"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, v.ID.String(), result["version_id"])
		assert.Equal(t, domain.VersionPublished, e.store.Version(v.ID).Status)
	})

	t.Run("Сверка вне расписания", func(t *testing.T) {
		e := newEnv(t)
		app, v := seed(e)
		e.objects.CopyErr = errors.New("storage unavailable")
		bearer := token(t, admin, auth.RoleAdmin)

		resp, _ := e.do(t, http.MethodPost, path(app, v, "approve"), bearer, nil)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		e.objects.CopyErr = nil
		resp, body := e.do(t, http.MethodPost, "/v1/admin/reconcile", bearer, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, 1, body["repaired"])
	})

	t.Run("Версия не найдена", func(t *testing.T) {
		e := newEnv(t)
		app, _ := seed(e)
		resp, _ := e.do(t, http.MethodPost, path(app, domain.AppVersion{ID: uuid.New()}, "unpublish"), token(t, admin, auth.RoleAdmin), nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
