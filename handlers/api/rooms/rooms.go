package rooms

import (
	"net/http"

	"docsync-server/collab"

	"github.com/go-chi/render"
)

type Lister interface {
	ActiveRooms() []collab.RoomInfo
}

// HandleList reports live rooms, busiest first.
func HandleList(lister Lister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms := lister.ActiveRooms()
		if rooms == nil {
			rooms = []collab.RoomInfo{}
		}
		render.JSON(w, r, rooms)
	}
}
