package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/spadeshq/accounts/internal/common"
	"github.com/spadeshq/accounts/internal/server/models"
	"github.com/spadeshq/accounts/internal/server/services"
)

// tokenCookie is the session cookie handed out by login and read by every
// protected endpoint.
const tokenCookie = "token"

type loginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type updateRequest struct {
	Username       *string `json:"username"`
	Password       *string `json:"password"`
	Email          *string `json:"email"`
	ProfilePicture *string `json:"profile_picture"`
	Role           *string `json:"role"`
}

// userResponse is the public view of a user record; the email and
// password hash never leave the server.
type userResponse struct {
	ID             int64   `json:"id"`
	Username       string  `json:"username"`
	Role           string  `json:"role"`
	ProfilePicture *string `json:"profile_picture"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Username:       u.Username,
		Role:           u.Role,
		ProfilePicture: u.ProfilePicture,
	}
}

func messageBody(msg string) gin.H { return gin.H{"message": msg} }
func errorBody(msg string) gin.H   { return gin.H{"error": msg} }

// writeError maps a service error to its HTTP shape. Unexpected faults
// are logged with detail and reported as an opaque 500.
func (s *Server) writeError(c *gin.Context, err error) {
	var validationErr *common.ValidationError
	var conflictErr *common.ConflictError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, errorBody(validationErr.Msg))
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, errorBody(conflictErr.Msg))
	case errors.Is(err, common.ErrorUnauthorized):
		c.JSON(http.StatusUnauthorized, errorBody("Invalid or expired token"))
	case errors.Is(err, common.ErrorForbidden):
		c.JSON(http.StatusForbidden, errorBody("Unauthorized"))
	case errors.Is(err, common.ErrorNotFound):
		c.JSON(http.StatusNotFound, errorBody("User not found"))
	default:
		s.logger.Error(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err.Error(),
		)
		c.JSON(http.StatusInternalServerError, errorBody("Internal Server Error"))
	}
}

func (s *Server) unprocessable(c *gin.Context) {
	c.JSON(http.StatusUnprocessableEntity, errorBody("Unprocessable Entity"))
}

// userID parses the :id path segment. Reports false after writing the
// 422 response.
func (s *Server) userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		s.unprocessable(c)
		return 0, false
	}
	return id, true
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.unprocessable(c)
		return
	}

	token, err := s.users.Login(c.Request.Context(), req.UsernameOrEmail, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			// Which credential was wrong is deliberately not revealed.
			c.JSON(http.StatusUnauthorized, errorBody("Invalid username, email or password"))
			return
		}
		s.writeError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(tokenCookie, token, 0, "/", "", true, false)
	c.JSON(http.StatusOK, messageBody("Login successful"))
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.unprocessable(c)
		return
	}

	token, err := s.users.Register(c.Request.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		s.writeError(c, err)
		return
	}

	// The confirmation token is not part of the response; it reaches the
	// user out of band. Logged so an operator can hand it over while no
	// delivery channel is wired up.
	s.logger.Info(c.Request.Context(), "user created",
		"username", req.Username,
		"confirmation_token", token,
	)
	c.JSON(http.StatusOK, messageBody("User created"))
}

func (s *Server) confirm(c *gin.Context) {
	token := c.Query(tokenCookie)

	if err := s.users.Confirm(c.Request.Context(), token); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			c.JSON(http.StatusNotFound, errorBody("Token not found"))
			return
		}
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, messageBody("User confirmed"))
}

func (s *Server) search(c *gin.Context) {
	found, err := s.users.Search(c.Request.Context(), c.Query("query"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := make([]userResponse, 0, len(found))
	for i := range found {
		resp = append(resp, toUserResponse(&found[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) read(c *gin.Context) {
	id, ok := s.userID(c)
	if !ok {
		return
	}

	user, err := s.users.Read(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func (s *Server) update(c *gin.Context) {
	id, ok := s.userID(c)
	if !ok {
		return
	}

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.unprocessable(c)
		return
	}

	token, _ := c.Cookie(tokenCookie)
	err := s.users.Update(c.Request.Context(), id, services.UpdateRequest{
		Username:       req.Username,
		Password:       req.Password,
		Email:          req.Email,
		ProfilePicture: req.ProfilePicture,
		Role:           req.Role,
	}, token)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, messageBody("User updated"))
}

func (s *Server) delete(c *gin.Context) {
	id, ok := s.userID(c)
	if !ok {
		return
	}

	token, _ := c.Cookie(tokenCookie)
	if err := s.users.Delete(c.Request.Context(), id, token); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, messageBody("User deleted"))
}

// requireAccess authorizes the cookie token and applies the admin-or-self
// rule for the picture endpoints. Reports false after writing the error
// response.
func (s *Server) requireAccess(c *gin.Context, targetID int64) bool {
	token, _ := c.Cookie(tokenCookie)
	auth, err := s.users.Authorize(c.Request.Context(), token)
	if err != nil {
		s.writeError(c, err)
		return false
	}
	if auth.Role != models.RoleAdmin && auth.UserID != targetID {
		s.writeError(c, common.ErrorForbidden)
		return false
	}
	return true
}

func (s *Server) pictureUploadURL(c *gin.Context) {
	id, ok := s.userID(c)
	if !ok {
		return
	}
	if !s.requireAccess(c, id) {
		return
	}

	key, url, err := s.pictures.UploadURL(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"key": key, "url": url})
}

func (s *Server) pictureDownloadURL(c *gin.Context) {
	id, ok := s.userID(c)
	if !ok {
		return
	}

	url, err := s.pictures.DownloadURL(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}
