package ddpchat

// RoomDirectory holds the rooms from the latest directory fetch.
type RoomDirectory struct {
	rooms []Room
}

func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{rooms: []Room{}}
}

// ReplaceAll swaps the whole set; nothing from the previous set survives.
func (d *RoomDirectory) ReplaceAll(rooms []Room) {
	next := make([]Room, len(rooms))
	copy(next, rooms)
	d.rooms = next
}

// List returns the rooms in server order. The slice is shared with
// snapshots and must not be modified.
func (d *RoomDirectory) List() []Room {
	return d.rooms
}

// Contains reports whether id is a known room.
func (d *RoomDirectory) Contains(id string) bool {
	for _, r := range d.rooms {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (d *RoomDirectory) Len() int { return len(d.rooms) }
