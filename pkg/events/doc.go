/*
Package events implements the tenant-scoped broadcast fabric behind
the event channel gateway: a RoomRegistry holding one Room per tenant,
each Room holding one Member per live WebSocket connection. A
successful mutation on either the channel or the request/response path
broadcasts the same outbound event shape to the tenant's room: a
channel mutation reaches every member except the connection that
originated it (BroadcastExcept), a request/response mutation reaches
every member (BroadcastAll).
*/
package events
