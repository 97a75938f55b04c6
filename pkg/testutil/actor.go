package testutil

import (
	"net/http"

	"github.com/google/uuid"

	id "careverify/pkg/domain"
	"careverify/pkg/platform/middleware"
	"careverify/pkg/requestcontext"
)

// AsActor sets the gateway actor headers the Actor middleware reads. A fresh
// user id is minted per call. A nil org leaves X-Actor-Org unset.
func AsActor(req *http.Request, role requestcontext.Role, org id.OrgID) *http.Request {
	req.Header.Set(middleware.HeaderActorID, uuid.NewString())
	req.Header.Set(middleware.HeaderActorRole, string(role))
	if !org.IsNil() {
		req.Header.Set(middleware.HeaderActorOrg, org.String())
	}
	return req
}
