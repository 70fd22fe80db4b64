package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"patchhub/hub/services"

	"github.com/go-chi/chi/v5"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
	login    *loginInfo
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
		headers:  nil,
		json:     nil,
		body:     nil,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Login(email, password string) *httpTestRequest {
	r.login = &loginInfo{Email: email, Password: password}
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) Body(body io.Reader) *httpTestRequest {
	r.body = body
	return r
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	if r.headers != nil {
		for k, v := range r.headers {
			req.Header.Add(k, v)
		}
	}

	if r.login != nil {
		req.SetBasicAuth(r.login.Email, r.login.Password)
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		if res.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, w.Body.String())
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

var ErrUnauthorized = errors.New("unauthorized")

type client struct {
	api       chi.Router
	authToken string
	userId    uint
}

func (c *client) Get(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "GET", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Post(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "POST", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Put(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "PUT", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "DELETE", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

type loginInfo struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *client) signup(name, email, password string) (loginInfo, error) {
	body := map[string]string{
		"email": email, "name": name, "password": password,
	}

	err := c.Post("/user/signup").Json(body).Do(nil)
	if err != nil {
		return loginInfo{}, err
	}

	return loginInfo{Email: email, Password: password}, nil
}

func (c *client) login(login loginInfo) error {
	var res struct {
		UserId      uint   `json:"user_id"`
		AccessToken string `json:"access_token"`
	}
	err := c.Get("/user/login").Login(login.Email, login.Password).Do(&res)
	if err != nil {
		return err
	}

	c.authToken = res.AccessToken
	c.userId = res.UserId

	return nil
}

func (c *client) promoteAdmin(userId uint) error {
	return c.Post(fmt.Sprintf("/user/%v/admin", userId)).Do(nil)
}

func (c *client) demoteAdmin(userId uint) error {
	return c.Delete(fmt.Sprintf("/user/%v/admin", userId)).Do(nil)
}

func (c *client) listUsers() ([]services.UserInfo, error) {
	var res []services.UserInfo
	err := c.Get("/user/list").Do(&res)
	return res, err
}

func (c *client) userInfo() (services.UserInfo, error) {
	var res services.UserInfo
	err := c.Get("/user/info").Do(&res)
	return res, err
}

func (c *client) createPatch(name string, tags, companies []string) (uint, error) {
	body := map[string]interface{}{
		"name": name, "tags": tags, "companies": companies,
	}

	var res struct {
		PatchId  uint   `json:"patch_id"`
		UniqueId string `json:"unique_id"`
	}
	err := c.Post("/patch/").Json(body).Do(&res)
	return res.PatchId, err
}

func (c *client) patchInfo(patchId uint) (services.PatchInfo, error) {
	var res services.PatchInfo
	err := c.Get(fmt.Sprintf("/patch/%v", patchId)).Do(&res)
	return res, err
}

func (c *client) listPatches() ([]services.PatchInfo, error) {
	var res []services.PatchInfo
	err := c.Get("/patch/list").Do(&res)
	return res, err
}

func (c *client) deletePatch(patchId uint) error {
	return c.Delete(fmt.Sprintf("/patch/%v", patchId)).Do(nil)
}

func (c *client) uploadResource(patchId uint, filename string, data io.Reader) (map[string]string, error) {
	var res map[string]string
	err := c.Post(fmt.Sprintf("/patch/%v/resource?filename=%v", patchId, filename)).Body(data).Do(&res)
	return res, err
}

func (c *client) downloadResource(patchId, resourceId uint) (string, error) {
	var res map[string]string
	err := c.Get(fmt.Sprintf("/patch/%v/resource/%v/download", patchId, resourceId)).Do(&res)
	return res["link"], err
}

func (c *client) listMessages(query string) ([]services.MessageInfo, error) {
	var res []services.MessageInfo
	err := c.Get("/message/list" + query).Do(&res)
	return res, err
}

func (c *client) markRead(messageId uint) error {
	return c.Put(fmt.Sprintf("/message/%v/read", messageId)).Do(nil)
}

func (c *client) favorite(patchId uint) error {
	return c.Post("/message/favorite").Json(map[string]uint{"patch_id": patchId}).Do(nil)
}

func (c *client) fileReport(targetType string, targetId uint, reason string) error {
	body := map[string]interface{}{
		"target_type": targetType, "target_id": targetId, "reason": reason,
	}
	return c.Post("/moderation/report").Json(body).Do(nil)
}

func (c *client) fileFeedback(content string) error {
	return c.Post("/moderation/feedback").Json(map[string]string{"content": content}).Do(nil)
}

func (c *client) handleReport(messageId uint, reply string) error {
	return c.Post(fmt.Sprintf("/moderation/report/%v/handle", messageId)).Json(map[string]string{"reply": reply}).Do(nil)
}

func (c *client) handleFeedback(messageId uint, reply string) error {
	return c.Post(fmt.Sprintf("/moderation/feedback/%v/handle", messageId)).Json(map[string]string{"reply": reply}).Do(nil)
}
