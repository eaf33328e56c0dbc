package govision

// Credential is the token triple issued by the auth endpoints plus the
// identity (email) it was issued for.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Identity     string
}

// TokenPair mirrors the payload returned by /auth/login and /auth/refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// UploadResponse mirrors the payload returned by /image/upload.
type UploadResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobStatusResponse mirrors the payload returned by /jobs/{id}. ImageURL and
// Predictions are populated only once the job has produced results.
type JobStatusResponse struct {
	Status      string      `json:"status"`
	ImageURL    string      `json:"image_url"`
	Predictions []Detection `json:"predictions"`
}

// Detection is one predicted object region. Coordinates are center-based in
// image pixel space.
type Detection struct {
	CenterX    float64 `json:"x"`
	CenterY    float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	ClassID    int     `json:"class_id"`
	ClassLabel string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// APIError carries a non-2xx response whose body included a server message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

type errorBody struct {
	Message string `json:"message"`
}
